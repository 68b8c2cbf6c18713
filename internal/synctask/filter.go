package synctask

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"cloudsync/internal/excludes"
)

var tempSuffixes = []string{".tmp", ".temp", ".swp", ".swo", ".swx", "~", ".part", ".crdownload"}

// vimProbeName is the file vim creates to test directory writability.
const vimProbeName = "4913"

func isTempName(name string) bool {
	base := filepath.Base(name)
	if base == vimProbeName {
		return true
	}
	lower := strings.ToLower(base)
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// tree tracks the directories registered with one fsnotify watcher.
// It is owned by the task's event loop after Start returns.
type tree struct {
	root          string
	resourceForks bool
	fsw           *fsnotify.Watcher
	dirs          map[string]struct{}
}

func newTree(root string, resourceForks bool, fsw *fsnotify.Watcher) *tree {
	return &tree{root: filepath.Clean(root), resourceForks: resourceForks, fsw: fsw, dirs: make(map[string]struct{})}
}

// rel resolves name against the root and reports whether it lies inside it.
func (t *tree) rel(name string) (string, bool) {
	if !filepath.IsAbs(name) {
		name = filepath.Join(t.root, name)
	}
	rel, err := filepath.Rel(t.root, filepath.Clean(name))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// addDir watches dir and every non-noise directory beneath it. It reports
// whether any regular file was found along the way.
func (t *tree) addDir(dir string) (bool, error) {
	hasFiles := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			return nil
		}
		rel, ok := t.rel(path)
		if !ok {
			return filepath.SkipDir
		}
		if rel != "." && excludes.Match(rel, t.resourceForks) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if !isTempName(path) {
				hasFiles = true
			}
			return nil
		}
		if _, seen := t.dirs[path]; seen {
			return nil
		}
		if err := t.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		t.dirs[path] = struct{}{}
		return nil
	})
	return hasFiles, err
}

// rootGone reports whether ev signals removal of the watched root itself.
func (t *tree) rootGone(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == t.root && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
}

// relevant applies the change filter. Directory bookkeeping happens here too:
// new directories join the watch and vanished ones leave it.
func (t *tree) relevant(ev fsnotify.Event) bool {
	if ev.Op&^fsnotify.Chmod == 0 {
		return false
	}
	rel, ok := t.rel(ev.Name)
	if !ok || rel == "." {
		return false
	}
	path := filepath.Join(t.root, rel)
	if excludes.Match(rel, t.resourceForks) {
		return false
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, wasDir := t.dirs[path]; wasDir {
			t.forget(path)
			return false
		}
		return !isTempName(path)
	}

	info, err := os.Lstat(path)
	if err == nil && info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			hasFiles, _ := t.addDir(path)
			return hasFiles
		}
		return false
	}
	return !isTempName(path)
}

func (t *tree) forget(dir string) {
	prefix := dir + string(filepath.Separator)
	for path := range t.dirs {
		if path == dir || strings.HasPrefix(path, prefix) {
			_ = t.fsw.Remove(path)
			delete(t.dirs, path)
		}
	}
}
