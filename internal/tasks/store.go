package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"cloudsync/internal/config"
	"cloudsync/internal/fileutil"
)

// Store reads and writes the task file.
type Store struct {
	path string
}

// NewStore returns a store backed by the TOML file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the task file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the task file. A missing file yields an empty set. Any decoding
// or validation problem is returned wrapped in ErrInvalidConfig and no
// partial set is returned.
func (s *Store) Load() (Set, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Save replaces the task file atomically.
func (s *Store) Save(set Set) error {
	data, err := Encode(set)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("save task file: %w", err)
	}
	return nil
}

type fileDocument struct {
	Tasks map[string]fileTask `toml:"tasks"`
}

// fileTask uses pointers so absent keys can be told apart from zero values.
type fileTask struct {
	LocalPath            *string  `toml:"local_path"`
	Remote               *string  `toml:"remote"`
	Mode                 *string  `toml:"mode"`
	ExcludeResourceForks *bool    `toml:"exclude_resource_forks"`
	DebounceSeconds      *float64 `toml:"debounce_seconds"`
	Status               *string  `toml:"status"`
}

// Decode parses a task document. Unknown keys and missing required keys
// (local_path, remote, mode) are errors.
func Decode(r io.Reader) (Set, error) {
	var doc fileDocument
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.TrimSpace(strict.String()))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	set := make(Set, len(doc.Tasks))
	for name, raw := range doc.Tasks {
		cfg, err := raw.toConfig(name)
		if err != nil {
			return nil, err
		}
		set[name] = cfg
	}
	return set, nil
}

func (raw fileTask) toConfig(name string) (TaskConfig, error) {
	name = strings.TrimSpace(name)
	missing := make([]string, 0, 3)
	if raw.LocalPath == nil {
		missing = append(missing, "local_path")
	}
	if raw.Remote == nil {
		missing = append(missing, "remote")
	}
	if raw.Mode == nil {
		missing = append(missing, "mode")
	}
	if len(missing) > 0 {
		return TaskConfig{}, fmt.Errorf("%w: tasks.%s is missing %s", ErrInvalidConfig, name, strings.Join(missing, ", "))
	}

	localPath, err := config.ExpandPath(strings.TrimSpace(*raw.LocalPath))
	if err != nil {
		return TaskConfig{}, fmt.Errorf("%w: tasks.%s.local_path: %v", ErrInvalidConfig, name, err)
	}

	cfg := TaskConfig{
		Name:            name,
		LocalPath:       localPath,
		Remote:          strings.TrimSpace(*raw.Remote),
		Mode:            Mode(strings.ToLower(strings.TrimSpace(*raw.Mode))),
		DebounceSeconds: DefaultDebounceSeconds,
		Status:          StatusActive,
	}
	if raw.ExcludeResourceForks != nil {
		cfg.ExcludeResourceForks = *raw.ExcludeResourceForks
	}
	if raw.DebounceSeconds != nil {
		cfg.DebounceSeconds = *raw.DebounceSeconds
	}
	if raw.Status != nil {
		cfg.Status = Status(strings.ToLower(strings.TrimSpace(*raw.Status)))
	}
	if err := cfg.Validate(); err != nil {
		return TaskConfig{}, err
	}
	return cfg, nil
}

type encodedDocument struct {
	Tasks map[string]encodedTask `toml:"tasks"`
}

type encodedTask struct {
	LocalPath            string  `toml:"local_path"`
	Remote               string  `toml:"remote"`
	Mode                 string  `toml:"mode"`
	ExcludeResourceForks bool    `toml:"exclude_resource_forks"`
	DebounceSeconds      float64 `toml:"debounce_seconds"`
	Status               string  `toml:"status"`
}

// Encode renders a set as a task document. Every task is validated first.
func Encode(set Set) ([]byte, error) {
	doc := encodedDocument{Tasks: make(map[string]encodedTask, len(set))}
	for name, cfg := range set {
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Name != name {
			return nil, fmt.Errorf("%w: task keyed %q is named %q", ErrInvalidConfig, name, cfg.Name)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		doc.Tasks[name] = encodedTask{
			LocalPath:            cfg.LocalPath,
			Remote:               cfg.Remote,
			Mode:                 string(cfg.Mode),
			ExcludeResourceForks: cfg.ExcludeResourceForks,
			DebounceSeconds:      cfg.DebounceSeconds,
			Status:               string(cfg.Status),
		}
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode task file: %w", err)
	}
	return data, nil
}
