package tasks

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Mode selects the synchronization direction for a task.
type Mode string

const (
	// ModeBidirectional reconciles changes in both directions.
	ModeBidirectional Mode = "bidirectional"
	// ModeUpload pushes local changes to the remote only.
	ModeUpload Mode = "upload"
)

// Status is the operator-controlled run state of a task.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// DefaultDebounceSeconds applies when a task omits debounce_seconds.
const DefaultDebounceSeconds = 5.0

// MaxDebounceSeconds bounds debounce_seconds to one day.
const MaxDebounceSeconds = 86400.0

// ErrInvalidConfig wraps every task file decoding or validation failure.
var ErrInvalidConfig = errors.New("invalid task configuration")

// TaskConfig is an immutable snapshot of one task definition. Values are
// comparable, so two configs are equal exactly when every field matches.
type TaskConfig struct {
	Name                 string
	LocalPath            string
	Remote               string
	Mode                 Mode
	ExcludeResourceForks bool
	DebounceSeconds      float64
	Status               Status
}

// Debounce returns the quiet period that must elapse after the last change
// before a sync is triggered.
func (c TaskConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// Paused reports whether the task is registered but must not run.
func (c TaskConfig) Paused() bool {
	return c.Status == StatusPaused
}

// Equal reports structural equality.
func (c TaskConfig) Equal(other TaskConfig) bool {
	return c == other
}

// SameExceptStatus compares every field except Status. Supervisors use it to
// tell a pause/resume toggle apart from a real configuration change.
func (c TaskConfig) SameExceptStatus(other TaskConfig) bool {
	c.Status = other.Status
	return c == other
}

// Validate checks field values. Path expansion happens during decoding.
func (c TaskConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: task name must not be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.LocalPath) == "" {
		return fmt.Errorf("%w: tasks.%s.local_path must be set", ErrInvalidConfig, c.Name)
	}
	if strings.TrimSpace(c.Remote) == "" {
		return fmt.Errorf("%w: tasks.%s.remote must be set", ErrInvalidConfig, c.Name)
	}
	switch c.Mode {
	case ModeBidirectional, ModeUpload:
	default:
		return fmt.Errorf("%w: tasks.%s.mode must be %q or %q, got %q", ErrInvalidConfig, c.Name, ModeBidirectional, ModeUpload, c.Mode)
	}
	switch c.Status {
	case StatusActive, StatusPaused:
	default:
		return fmt.Errorf("%w: tasks.%s.status must be %q or %q, got %q", ErrInvalidConfig, c.Name, StatusActive, StatusPaused, c.Status)
	}
	if math.IsNaN(c.DebounceSeconds) || c.DebounceSeconds < 0 || c.DebounceSeconds > MaxDebounceSeconds {
		return fmt.Errorf("%w: tasks.%s.debounce_seconds must be between 0 and %g", ErrInvalidConfig, c.Name, MaxDebounceSeconds)
	}
	return nil
}

// Set maps task names to their configuration.
type Set map[string]TaskConfig

// Names returns the task names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for name, cfg := range s {
		out[name] = cfg
	}
	return out
}
