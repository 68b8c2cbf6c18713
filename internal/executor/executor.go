// Package executor runs the external sync engine for a single task.
//
// The daemon never transfers data itself. Each sync is one rclone process whose
// argument list is built from the task definition and the [executor] settings;
// the process is killed when the caller's context is cancelled or the per-run
// timeout elapses.
package executor

import (
	"context"
	"errors"
	"time"

	"cloudsync/internal/tasks"
)

// ErrTimeout reports that a run exceeded the configured timeout.
var ErrTimeout = errors.New("sync timed out")

// Request describes one sync invocation.
type Request struct {
	Task      string
	LocalPath string
	Remote    string
	Mode      tasks.Mode
	Excludes  []string
	// Resync asks a bidirectional run to rebuild its baseline listing.
	Resync bool
}

// Result is the outcome of a run. Err is nil only when the engine exited zero.
type Result struct {
	Args     []string
	ExitCode int
	Started  time.Time
	Duration time.Duration
	Output   string
	Err      error
}

// Success reports whether the run completed without error.
func (r Result) Success() bool {
	return r.Err == nil
}

// Executor runs sync requests. Implementations must honour ctx cancellation
// and return only once the underlying process has exited.
type Executor interface {
	Run(ctx context.Context, req Request) Result
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, req Request) Result

// Run calls f.
func (f Func) Run(ctx context.Context, req Request) Result {
	return f(ctx, req)
}
