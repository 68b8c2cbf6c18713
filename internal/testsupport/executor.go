package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloudsync/internal/executor"
)

// FakeExecutor records sync requests instead of running rclone.
type FakeExecutor struct {
	mu        sync.Mutex
	calls     []executor.Request
	times     []time.Time
	active    map[string]int
	maxActive int
	delay     time.Duration
	gate      chan struct{}
	fail      func(call int, req executor.Request) error
}

// NewFakeExecutor returns an executor whose runs succeed immediately.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{active: make(map[string]int)}
}

// SetDelay makes every subsequent run take d (or until its context ends).
func (f *FakeExecutor) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Block makes subsequent runs wait until the returned release func is called.
func (f *FakeExecutor) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// FailWhen installs a hook deciding the error for the call with the given
// zero-based index. A nil return means success.
func (f *FakeExecutor) FailWhen(fn func(call int, req executor.Request) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// FailAll makes every run exit non-zero.
func (f *FakeExecutor) FailAll() {
	f.FailWhen(func(int, executor.Request) error { return fmt.Errorf("rclone exited with code 1") })
}

// Run implements executor.Executor.
func (f *FakeExecutor) Run(ctx context.Context, req executor.Request) executor.Result {
	started := time.Now()
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, req)
	f.times = append(f.times, started)
	f.active[req.Task]++
	if f.active[req.Task] > f.maxActive {
		f.maxActive = f.active[req.Task]
	}
	delay, gate, fail := f.delay, f.gate, f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if delay > 0 && ctx.Err() == nil {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	f.mu.Lock()
	f.active[req.Task]--
	f.mu.Unlock()

	result := executor.Result{Started: started, Duration: time.Since(started)}
	switch {
	case ctx.Err() != nil:
		result.ExitCode = -1
		result.Err = fmt.Errorf("sync cancelled: %w", ctx.Err())
	case fail != nil:
		if err := fail(call, req); err != nil {
			result.ExitCode = 1
			result.Err = err
			result.Output = "fake rclone failure"
		}
	}
	return result
}

// Calls returns a copy of the recorded requests.
func (f *FakeExecutor) Calls() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.calls...)
}

// CallCount returns how many runs have started.
func (f *FakeExecutor) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallTimes returns when each run started.
func (f *FakeExecutor) CallTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

// MaxConcurrent returns the highest number of simultaneous runs observed for
// any single task.
func (f *FakeExecutor) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
