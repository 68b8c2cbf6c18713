package health_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloudsync/internal/health"
	"cloudsync/internal/logging"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	targets  map[string]*health.Target
	restarts []string
	failed   []string
	startErr error
}

func newFakeSupervisor(targets ...health.Target) *fakeSupervisor {
	f := &fakeSupervisor{targets: make(map[string]*health.Target)}
	for i := range targets {
		target := targets[i]
		f.targets[target.Name] = &target
	}
	return f
}

func (f *fakeSupervisor) Inspect() []health.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]health.Target, 0, len(f.targets))
	for _, target := range f.targets {
		out = append(out, *target)
	}
	return out
}

func (f *fakeSupervisor) Restart(_ context.Context, name string, generation uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.targets[name]
	if !ok || target.Generation != generation {
		return 0, health.ErrStale
	}
	f.restarts = append(f.restarts, name)
	if f.startErr != nil {
		target.Attempts++
		return target.Attempts, f.startErr
	}
	target.Attempts = 0
	target.Restarts++
	target.Alive = true
	return 0, nil
}

func (f *fakeSupervisor) MarkFailed(name string, generation uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.targets[name]
	if !ok || target.Generation != generation || target.Failed {
		return health.ErrStale
	}
	target.Failed = true
	f.failed = append(f.failed, name)
	return nil
}

func (f *fakeSupervisor) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

func (f *fakeSupervisor) target(name string) health.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.targets[name]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCheckRestartsDeadActiveTasksOnly(t *testing.T) {
	sup := newFakeSupervisor(
		health.Target{Name: "dead", Generation: 1, Active: true},
		health.Target{Name: "alive", Generation: 2, Active: true, Alive: true},
		health.Target{Name: "paused", Generation: 3},
		health.Target{Name: "failed", Generation: 4, Active: true, Failed: true},
	)
	mon := health.New(sup, health.Options{Interval: time.Hour, MaxAttempts: 3}, logging.NewNop())

	mon.Check(context.Background())
	waitFor(t, func() bool { return sup.restartCount() == 1 }, "expected one restart")

	time.Sleep(50 * time.Millisecond)
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if len(sup.restarts) != 1 || sup.restarts[0] != "dead" {
		t.Fatalf("expected only the dead task to restart, got %v", sup.restarts)
	}
	if got := sup.targets["dead"]; !got.Alive || got.Restarts != 1 {
		t.Fatalf("unexpected dead target after restart %+v", *got)
	}
}

func TestCheckMarksFailedAfterMaxAttempts(t *testing.T) {
	sup := newFakeSupervisor(health.Target{Name: "vault", Generation: 7, Active: true})
	sup.startErr = errors.New("directory missing")
	mon := health.New(sup, health.Options{Interval: time.Hour, MaxAttempts: 2}, logging.NewNop())
	ctx := context.Background()

	mon.Check(ctx)
	waitFor(t, func() bool { return sup.target("vault").Attempts == 1 }, "expected first failed attempt")
	if sup.target("vault").Failed {
		t.Fatal("task should not fail before the attempt budget is spent")
	}

	waitFor(t, func() bool {
		mon.Check(ctx)
		return sup.target("vault").Failed
	}, "expected task to be marked failed")
	if got := sup.target("vault").Attempts; got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}

	before := sup.restartCount()
	mon.Check(ctx)
	time.Sleep(50 * time.Millisecond)
	if sup.restartCount() != before {
		t.Fatal("failed task must not be restarted again")
	}
}

func TestCheckSkipsTargetAlreadyWaiting(t *testing.T) {
	sup := newFakeSupervisor(health.Target{Name: "vault", Generation: 1, Active: true})
	mon := health.New(sup, health.Options{Interval: time.Hour, Backoff: 200 * time.Millisecond, MaxAttempts: 3}, logging.NewNop())

	ctx := context.Background()
	mon.Check(ctx)
	mon.Check(ctx)
	waitFor(t, func() bool { return sup.restartCount() >= 1 }, "expected restart after backoff")
	time.Sleep(250 * time.Millisecond)
	if got := sup.restartCount(); got != 1 {
		t.Fatalf("expected a single restart while waiting, got %d", got)
	}
}

func TestRestartHonoursBackoffAndCancellation(t *testing.T) {
	sup := newFakeSupervisor(health.Target{Name: "vault", Generation: 1, Active: true})
	mon := health.New(sup, health.Options{Interval: 20 * time.Millisecond, Backoff: time.Hour, MaxAttempts: 3}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sup.restartCount() != 0 {
		t.Fatal("restart must not happen before the backoff elapses")
	}
}

func TestStaleRestartIsIgnored(t *testing.T) {
	sup := newFakeSupervisor(health.Target{Name: "vault", Generation: 1, Active: true})
	mon := health.New(sup, health.Options{Interval: time.Hour, Backoff: 50 * time.Millisecond, MaxAttempts: 1}, logging.NewNop())

	mon.Check(context.Background())
	sup.mu.Lock()
	sup.targets["vault"].Generation = 2
	sup.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	if got := sup.target("vault"); got.Failed || got.Attempts != 0 || sup.restartCount() != 0 {
		t.Fatalf("stale restart should leave the target alone, got %+v", got)
	}
}

type failureRecorder struct {
	mu    sync.Mutex
	tasks []string
}

func (r *failureRecorder) NotifyTaskFailed(_ context.Context, task string, _ int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func TestMarkFailedNotifiesOnce(t *testing.T) {
	sup := newFakeSupervisor(health.Target{Name: "vault", Generation: 1, Active: true, Attempts: 3, LastError: "gone"})
	rec := &failureRecorder{}
	mon := health.New(sup, health.Options{Interval: time.Hour, MaxAttempts: 3, Notifier: rec}, logging.NewNop())

	mon.Check(context.Background())
	mon.Check(context.Background())

	if !sup.target("vault").Failed {
		t.Fatal("expected task to be marked failed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.tasks) != 1 || rec.tasks[0] != "vault" {
		t.Fatalf("expected a single failure notification, got %v", rec.tasks)
	}
}
