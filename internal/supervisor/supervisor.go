// Package supervisor reconciles the declared task set against live sync tasks.
//
// Every registry change goes through Reconcile or the health hooks, which are
// serialized by one lock; a second lock guards the map itself so status
// queries never wait behind a task that is finishing its last sync. A task
// whose configuration changes is always stopped and replaced by a fresh one
// with new counters, never patched in place.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cloudsync/internal/executor"
	"cloudsync/internal/health"
	"cloudsync/internal/history"
	"cloudsync/internal/logging"
	"cloudsync/internal/synctask"
	"cloudsync/internal/tasks"
)

var (
	// ErrUnknownTask is returned for names that are not registered.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskPaused is returned when a sync is requested for a paused task.
	ErrTaskPaused = errors.New("task is paused")
)

// Loader supplies the declared task set.
type Loader interface {
	Load() (tasks.Set, error)
}

// Options configure a Supervisor.
type Options struct {
	Loader   Loader
	Executor executor.Executor
	// History is optional; a nil value disables run recording.
	History synctask.History
	// StopTimeout bounds how long a replaced or removed task may keep
	// syncing before it is cancelled.
	StopTimeout time.Duration
	// SyncOnStart triggers an immediate sync whenever a task's watch starts.
	SyncOnStart bool
}

type entry struct {
	cfg        tasks.TaskConfig
	task       *synctask.Task
	generation uint64
	attempts   int
	restarts   int
	failed     bool
}

// Supervisor owns the task registry.
type Supervisor struct {
	opts   Options
	base   *slog.Logger
	logger *slog.Logger

	reconcileMu sync.Mutex

	mu         sync.Mutex
	entries    map[string]*entry
	generation uint64
	closed     bool
}

// New constructs an empty supervisor.
func New(opts Options, logger *slog.Logger) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Minute
	}
	return &Supervisor{
		opts:    opts,
		base:    logger,
		logger:  logging.NewComponentLogger(logger, "supervisor"),
		entries: make(map[string]*entry),
	}
}

// Reload loads the task set and reconciles against it. A load failure is
// logged, reconciled as an empty set, and returned.
func (s *Supervisor) Reload(ctx context.Context) error {
	set, loadErr := s.opts.Loader.Load()
	if loadErr != nil {
		logging.ErrorWithContext(s.logger, "task configuration invalid; treating as empty", "config_invalid",
			logging.Error(loadErr),
			logging.String(logging.FieldImpact, "all tasks are stopped until the file is fixed"),
			logging.String(logging.FieldErrorHint, "fix the task file; it is reloaded automatically on save"),
		)
		set = tasks.Set{}
	}
	if err := s.Reconcile(ctx, set); err != nil {
		return err
	}
	if loadErr != nil {
		return fmt.Errorf("load tasks: %w", loadErr)
	}
	return nil
}

type change struct {
	name  string
	stop  *synctask.Task
	start *entry
}

// Reconcile brings the registry in line with set. Removed and changed tasks
// are stopped before Reconcile returns; new and resumed tasks have their
// watches started. Start failures leave the task registered but not running.
func (s *Supervisor) Reconcile(ctx context.Context, set tasks.Set) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.Lock()
	if s.closed && len(set) > 0 {
		s.mu.Unlock()
		return errors.New("supervisor is shut down")
	}
	changes := s.diffLocked(set)
	s.mu.Unlock()

	if len(changes) == 0 {
		s.logger.Debug("reconcile: no changes", logging.Int("tasks", len(set)))
		return nil
	}

	// Stops run concurrently; a full shutdown waits at most one StopTimeout.
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		stopErrs []error
	)
	for _, c := range changes {
		if c.stop == nil {
			continue
		}
		wg.Add(1)
		go func(task *synctask.Task) {
			defer wg.Done()
			if err := s.stopTask(ctx, task); err != nil {
				errMu.Lock()
				stopErrs = append(stopErrs, err)
				errMu.Unlock()
			}
		}(c.stop)
	}
	wg.Wait()
	for _, c := range changes {
		if c.start != nil {
			s.startEntry(c.start)
		}
	}

	s.logger.Info("reconciled tasks", logging.Int("tasks", len(set)), logging.Int("changes", len(changes)))
	return errors.Join(stopErrs...)
}

// diffLocked applies registry changes and returns the task work to perform
// outside the map lock.
func (s *Supervisor) diffLocked(set tasks.Set) []change {
	var changes []change

	removed := make([]string, 0)
	for name := range s.entries {
		if _, ok := set[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		e := s.entries[name]
		delete(s.entries, name)
		s.logger.Info("task removed", logging.String(logging.FieldTask, name))
		changes = append(changes, change{name: name, stop: e.task})
	}

	for _, name := range set.Names() {
		cfg := set[name]
		e, exists := s.entries[name]
		switch {
		case !exists:
			e = s.newEntryLocked(cfg)
			s.entries[name] = e
			s.logger.Info("task added", logging.String(logging.FieldTask, name), logging.String("status", string(cfg.Status)))
			changes = append(changes, s.launchChange(name, nil, e))
		case e.cfg.Equal(cfg):
		default:
			msg := transitionMessage(e.cfg, cfg)
			old := e.task
			e = s.newEntryLocked(cfg)
			s.entries[name] = e
			s.logger.Info(msg, logging.String(logging.FieldTask, name))
			changes = append(changes, s.launchChange(name, old, e))
		}
	}
	return changes
}

func transitionMessage(prev, next tasks.TaskConfig) string {
	switch {
	case !prev.SameExceptStatus(next):
		return "task configuration changed; restarting"
	case next.Paused():
		return "task paused"
	default:
		return "task resumed"
	}
}

func (s *Supervisor) launchChange(name string, old *synctask.Task, e *entry) change {
	c := change{name: name, stop: old}
	if !e.cfg.Paused() {
		c.start = e
	}
	return c
}

func (s *Supervisor) newEntryLocked(cfg tasks.TaskConfig) *entry {
	s.generation++
	e := &entry{cfg: cfg, generation: s.generation}
	if !cfg.Paused() {
		e.task = synctask.New(cfg, s.opts.Executor, s.opts.History, s.base)
	}
	return e
}

func (s *Supervisor) stopTask(ctx context.Context, task *synctask.Task) error {
	if task == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()
	return task.Stop(stopCtx)
}

func (s *Supervisor) startEntry(e *entry) {
	if err := e.task.Start(); err != nil {
		logging.WarnWithContext(s.logger, "task failed to start", "task_start_failed",
			logging.String(logging.FieldTask, e.cfg.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task registered but not watching; the health monitor will retry"),
			logging.String(logging.FieldErrorHint, "check that local_path exists and is readable"),
		)
		return
	}
	s.afterStart(e.task)
}

func (s *Supervisor) afterStart(task *synctask.Task) {
	if s.opts.SyncOnStart {
		_ = task.TriggerNow(history.TriggerStart)
	}
}

// Shutdown stops every task and refuses further non-empty reconciles.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Reconcile(ctx, tasks.Set{})
}

// TriggerSync requests an immediate sync of the named task.
func (s *Supervisor) TriggerSync(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if e.cfg.Paused() {
		return fmt.Errorf("%w: %s", ErrTaskPaused, name)
	}
	if err := e.task.TriggerNow(history.TriggerManual); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	return nil
}

// Inspect implements health.Supervisor.
func (s *Supervisor) Inspect() []health.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]health.Target, 0, len(s.entries))
	for name, e := range s.entries {
		target := health.Target{
			Name:       name,
			Generation: e.generation,
			Active:     !e.cfg.Paused() && !s.closed,
			Failed:     e.failed,
			Attempts:   e.attempts,
			Restarts:   e.restarts,
		}
		if e.task != nil {
			snap := e.task.Snapshot()
			target.Alive = snap.Running
			target.ErrorCount = snap.ErrorCount
			target.LastError = snap.LastError
		}
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}

// Restart implements health.Supervisor. It re-launches the watch of the
// existing task so runtime counters survive. A task that is already running
// is reported as stale and its counters are left alone; this covers targets
// inspected while a reconcile had registered but not yet started them.
func (s *Supervisor) Restart(_ context.Context, name string, generation uint64) (int, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.generation != generation || e.task == nil || e.failed || s.closed || e.task.Alive() {
		s.mu.Unlock()
		return 0, health.ErrStale
	}
	task := e.task
	s.mu.Unlock()

	err := task.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		e.attempts++
		return e.attempts, err
	}
	e.attempts = 0
	e.restarts++
	s.afterStart(task)
	return 0, nil
}

// MarkFailed implements health.Supervisor.
func (s *Supervisor) MarkFailed(name string, generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok || e.generation != generation {
		return health.ErrStale
	}
	if e.failed {
		return health.ErrStale
	}
	e.failed = true
	return nil
}
