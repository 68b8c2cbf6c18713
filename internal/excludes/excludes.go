// Package excludes holds the platform noise rules shared by the change filter
// and the rclone invocation, so files ignored by the watcher are also never
// transferred.
package excludes

import (
	"path"
	"path/filepath"
	"strings"
)

type rule struct {
	name string
	// tree rules cover everything beneath a matching directory.
	tree bool
}

var noiseRules = []rule{
	{name: ".DS_Store", tree: true},
	{name: ".Trash", tree: true},
	{name: ".localized"},
	{name: ".Spotlight-V100", tree: true},
	{name: ".fseventsd", tree: true},
	{name: ".TemporaryItems", tree: true},
	{name: ".VolumeIcon.icns"},
	{name: ".DocumentRevisions-V100", tree: true},
	{name: ".com.apple.timemachine.donotpresent"},
	{name: ".AppleDouble", tree: true},
	{name: ".LSOverride", tree: true},
	{name: "Icon?"},
}

var resourceForkRule = rule{name: "._*"}

func rules(resourceForks bool) []rule {
	if !resourceForks {
		return noiseRules
	}
	out := make([]rule, 0, len(noiseRules)+1)
	out = append(out, noiseRules...)
	return append(out, resourceForkRule)
}

// Patterns returns rclone filter globs, one per --exclude flag.
func Patterns(resourceForks bool) []string {
	selected := rules(resourceForks)
	patterns := make([]string, 0, len(selected)*3)
	for _, r := range selected {
		patterns = append(patterns, r.name, "**/"+r.name)
		if r.tree {
			patterns = append(patterns, r.name+"/**", "**/"+r.name+"/**")
		}
	}
	return patterns
}

// Match reports whether rel, a path relative to the watched root, is noise.
// A path matches when any of its components matches a rule, which covers
// files inside excluded directories too.
func Match(rel string, resourceForks bool) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return false
	}
	selected := rules(resourceForks)
	for _, component := range strings.Split(rel, "/") {
		if component == "" || component == "." {
			continue
		}
		for _, r := range selected {
			if ok, _ := path.Match(r.name, component); ok {
				return true
			}
		}
	}
	return false
}
