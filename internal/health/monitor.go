// Package health restarts sync tasks whose directory watch has died.
//
// The monitor wakes on a fixed period and inspects every registered task.
// Dead, active, non-failed tasks get one backoff goroutine each; after the
// backoff the supervisor is asked to restart the task. A task that keeps
// failing is marked failed once the attempt budget is exhausted and is left
// alone until its configuration changes.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cloudsync/internal/logging"
)

// ErrStale is returned by Supervisor hooks when the target generation no
// longer matches the registry, for example after a reconcile replaced it.
var ErrStale = errors.New("health target is stale")

// Target is the monitor's view of one registered task.
type Target struct {
	Name       string
	Generation uint64
	Active     bool
	Alive      bool
	Failed     bool
	Attempts   int
	Restarts   int
	ErrorCount int
	LastError  string
}

// Supervisor exposes the registry hooks the monitor drives.
type Supervisor interface {
	Inspect() []Target
	// Restart re-launches the task's watch and returns the consecutive
	// failed attempt count after this attempt.
	Restart(ctx context.Context, name string, generation uint64) (int, error)
	MarkFailed(name string, generation uint64) error
}

// Options configure the monitor.
type Options struct {
	Interval    time.Duration
	Backoff     time.Duration
	MaxAttempts int
	// Notifier is alerted when a task is marked failed. Optional.
	Notifier Notifier
}

// Notifier receives permanent task failures.
type Notifier interface {
	NotifyTaskFailed(ctx context.Context, task string, attempts int, lastError string) error
}

// Monitor periodically restarts dead tasks.
type Monitor struct {
	sup    Supervisor
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	waiting map[string]uint64
	wg      sync.WaitGroup
}

// New constructs a monitor for sup.
func New(sup Supervisor, opts Options, logger *slog.Logger) *Monitor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Monitor{
		sup:     sup,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "health"),
		waiting: make(map[string]uint64),
	}
}

// Run checks targets every interval until ctx is done, then waits for any
// backoff goroutines to exit.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	defer m.wg.Wait()

	m.logger.Debug("health monitor started",
		logging.Duration("interval", m.opts.Interval),
		logging.Duration("backoff", m.opts.Backoff),
		logging.Int("max_attempts", m.opts.MaxAttempts),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one inspection pass.
func (m *Monitor) Check(ctx context.Context) {
	for _, target := range m.sup.Inspect() {
		if !target.Active || target.Alive || target.Failed {
			continue
		}
		if target.Attempts >= m.opts.MaxAttempts {
			m.fail(ctx, target)
			continue
		}
		if !m.claim(target) {
			continue
		}
		m.wg.Add(1)
		go m.restart(ctx, target)
	}
}

func (m *Monitor) claim(target Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.waiting[target.Name]; busy {
		return false
	}
	m.waiting[target.Name] = target.Generation
	return true
}

func (m *Monitor) release(name string) {
	m.mu.Lock()
	delete(m.waiting, name)
	m.mu.Unlock()
}

func (m *Monitor) restart(ctx context.Context, target Target) {
	defer m.wg.Done()
	defer m.release(target.Name)

	logger := m.logger.With(logging.String(logging.FieldTask, target.Name))
	logger.Info("task not running; scheduling restart",
		logging.Int("attempt", target.Attempts+1),
		logging.Int("max_attempts", m.opts.MaxAttempts),
		logging.Duration("backoff", m.opts.Backoff),
		logging.String("last_error", target.LastError),
	)

	if m.opts.Backoff > 0 {
		timer := time.NewTimer(m.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return
	}

	attempts, err := m.sup.Restart(ctx, target.Name, target.Generation)
	switch {
	case errors.Is(err, ErrStale):
		logger.Debug("restart skipped; task changed while waiting")
	case err != nil:
		logging.WarnWithContext(logger, "task restart failed", "task_restart_failed",
			logging.Error(err),
			logging.Int("attempts", attempts),
			logging.Int("max_attempts", m.opts.MaxAttempts),
			logging.String(logging.FieldImpact, "changes in this directory are not being synced"),
			logging.String(logging.FieldErrorHint, "check that the local directory exists and is accessible"),
		)
		if attempts >= m.opts.MaxAttempts {
			target.Attempts = attempts
			m.fail(ctx, target)
		}
	default:
		logger.Info("task restarted")
	}
}

func (m *Monitor) fail(ctx context.Context, target Target) {
	if err := m.sup.MarkFailed(target.Name, target.Generation); err != nil {
		return
	}
	logging.ErrorWithContext(m.logger, "task failed permanently; giving up restarts", "task_failed",
		logging.String(logging.FieldTask, target.Name),
		logging.Int("attempts", target.Attempts),
		logging.Int("restart_count", target.Restarts),
		logging.Int("error_count", target.ErrorCount),
		logging.String("last_error", target.LastError),
		logging.String(logging.FieldErrorHint, "fix the cause, then edit the task or pause and resume it"),
	)
	if m.opts.Notifier != nil {
		if err := m.opts.Notifier.NotifyTaskFailed(ctx, target.Name, target.Attempts, target.LastError); err != nil {
			m.logger.Warn("task failure notification not delivered",
				logging.String(logging.FieldTask, target.Name), logging.Error(err))
		}
	}
}
