package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cloudsync/internal/config"
	"cloudsync/internal/configwatch"
	"cloudsync/internal/fileutil"
	"cloudsync/internal/health"
	"cloudsync/internal/history"
	"cloudsync/internal/instance"
	"cloudsync/internal/logging"
	"cloudsync/internal/notifications"
	"cloudsync/internal/supervisor"
)

// ErrSuperseded is returned by Run when the self-check finds that this
// process no longer owns the instance lock.
var ErrSuperseded = errors.New("daemon superseded by another instance")

const pruneInterval = time.Hour

// Options configure a Controller.
type Options struct {
	Config     *config.Config
	Supervisor *supervisor.Supervisor
	// Lock enables the periodic self-check when set.
	Lock *instance.Lock
	// History enables run queries and pruning when set.
	History *history.Store
	// Notifier receives permanent task failures. Optional.
	Notifier notifications.Service
	// HandleSignals installs the process signal handlers while Run is active.
	HandleSignals bool
	Logger        *slog.Logger
}

// Status represents daemon runtime information.
type Status struct {
	PID         int
	StartedAt   time.Time
	TasksFile   string
	LockPath    string
	HistoryPath string
	Tasks       []supervisor.TaskStatus
}

// Controller owns the daemon lifecycle.
type Controller struct {
	cfg           *config.Config
	sup           *supervisor.Supervisor
	lock          *instance.Lock
	hist          *history.Store
	notifier      notifications.Service
	handleSignals bool
	base          *slog.Logger
	logger        *slog.Logger

	started time.Time

	reloadCh     chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New constructs a controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil || opts.Supervisor == nil {
		return nil, errors.New("daemon requires config and supervisor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		cfg:           opts.Config,
		sup:           opts.Supervisor,
		lock:          opts.Lock,
		hist:          opts.History,
		notifier:      opts.Notifier,
		handleSignals: opts.HandleSignals,
		base:          logger,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		started:       time.Now(),
		reloadCh:      make(chan struct{}, 1),
		shutdownCh:    make(chan struct{}),
	}, nil
}

// RequestReload asks the running controller to reload the task file.
// Requests made while one is queued are coalesced.
func (c *Controller) RequestReload() {
	select {
	case c.reloadCh <- struct{}{}:
	default:
	}
}

// RequestShutdown asks the running controller to stop gracefully.
func (c *Controller) RequestShutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

// Reload reloads the task file synchronously.
func (c *Controller) Reload(ctx context.Context) error {
	c.logger.Info("reloading tasks", logging.String("reason", "requested"))
	return c.sup.Reload(ctx)
}

// TriggerSync requests an immediate sync of one task.
func (c *Controller) TriggerSync(name string) error {
	return c.sup.TriggerSync(name)
}

// History returns recent sync runs, newest first. An empty task selects all tasks.
func (c *Controller) History(ctx context.Context, task string, limit int) ([]history.Run, error) {
	if c.hist == nil {
		return nil, errors.New("sync history is disabled")
	}
	return c.hist.Recent(ctx, task, limit)
}

// Status returns the current daemon status.
func (c *Controller) Status() Status {
	st := Status{
		PID:       os.Getpid(),
		StartedAt: c.started,
		TasksFile: c.cfg.Paths.TasksFile,
		Tasks:     c.sup.Status(),
	}
	if c.lock != nil {
		st.LockPath = c.lock.Paths().Lock
	}
	if c.hist != nil {
		st.HistoryPath = c.hist.Path()
	}
	return st
}

// Run performs the initial reconcile and blocks until shutdown. Every task is
// stopped before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	watcher := configwatch.New(c.cfg.Paths.TasksFile, c.cfg.ConfigDebounce(), c.base)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Stop()

	if err := c.sup.Reload(ctx); err != nil {
		logging.WarnWithContext(c.logger, "initial reconcile incomplete", "initial_reconcile_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some tasks may not be watching"),
			logging.String(logging.FieldErrorHint, "fix the task file; it is reloaded automatically on save"),
		)
	}

	monitor := health.New(c.sup, health.Options{
		Interval:    c.cfg.HealthInterval(),
		Backoff:     c.cfg.RestartBackoff(),
		MaxAttempts: c.cfg.Daemon.RestartMaxAttempts,
		Notifier:    c.notifier,
	}, c.base)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.shutdownCh:
			c.logger.Info("shutdown requested")
			cancel()
		}
		return nil
	})
	if c.handleSignals {
		g.Go(func() error { return c.signalLoop(gctx) })
	}
	g.Go(func() error { return c.reloadLoop(gctx, watcher.Reloads()) })
	g.Go(func() error { return monitor.Run(gctx) })
	if c.lock != nil {
		g.Go(func() error { return c.selfCheckLoop(gctx) })
	}
	if c.pollReloadMarker() {
		g.Go(func() error { return c.reloadMarkerLoop(gctx) })
	}
	if c.hist != nil && c.cfg.History.RetentionDays > 0 {
		g.Go(func() error { return c.pruneLoop(gctx) })
	}

	c.logger.Info("cloudsync daemon running",
		logging.Int("pid", os.Getpid()),
		logging.String("tasks_file", c.cfg.Paths.TasksFile),
		logging.Int("tasks", c.sup.Len()),
	)
	runErr := g.Wait()

	watcher.Stop()
	stopCtx := context.WithoutCancel(ctx)
	if err := c.sup.Shutdown(stopCtx); err != nil {
		c.logger.Warn("tasks did not stop cleanly", logging.Error(err))
	}
	c.logger.Info("cloudsync daemon stopped")
	return runErr
}

func (c *Controller) pollReloadMarker() bool {
	return c.cfg.Daemon.PollReloadMarker || !reloadSignalSupported
}

func (c *Controller) reloadLoop(ctx context.Context, fileChanges <-chan struct{}) error {
	for {
		var reason string
		select {
		case <-ctx.Done():
			return nil
		case <-fileChanges:
			reason = "task file changed"
		case <-c.reloadCh:
			reason = "reload requested"
		}
		c.logger.Info("reloading tasks", logging.String("reason", reason))
		if err := c.sup.Reload(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("reload finished with errors", logging.Error(err))
		}
	}
}

func (c *Controller) selfCheckLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.WatchdogInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		rewritten, err := c.lock.Verify()
		if err != nil {
			logging.ErrorWithContext(c.logger, "instance lock lost; shutting down", "instance_lock_lost",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this daemon stops so only one instance syncs"),
			)
			return fmt.Errorf("%w: %v", ErrSuperseded, err)
		}
		if rewritten {
			logging.WarnWithContext(c.logger, "pid file was missing; rewritten", "pid_file_restored",
				logging.String("pid_file", c.lock.Paths().PID),
				logging.String(logging.FieldImpact, "none; the watchdog can track this daemon again"),
			)
		}
	}
}

func (c *Controller) reloadMarkerLoop(ctx context.Context) error {
	marker := c.cfg.ReloadMarker()
	ticker := time.NewTicker(c.cfg.ReloadPollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		exists, err := fileutil.Exists(marker)
		if err != nil || !exists {
			continue
		}
		if err := fileutil.RemoveIfExists(marker); err != nil {
			c.logger.Warn("failed to consume reload marker", logging.Error(err))
			continue
		}
		c.logger.Debug("reload marker consumed")
		c.RequestReload()
	}
}

func (c *Controller) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().AddDate(0, 0, -c.cfg.History.RetentionDays)
		removed, err := c.hist.Prune(ctx, cutoff)
		switch {
		case err != nil && ctx.Err() == nil:
			c.logger.Warn("history prune failed", logging.Error(err))
		case removed > 0:
			c.logger.Info("pruned sync history", logging.Int64("removed", removed))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
