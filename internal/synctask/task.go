package synctask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"cloudsync/internal/excludes"
	"cloudsync/internal/executor"
	"cloudsync/internal/history"
	"cloudsync/internal/logging"
	"cloudsync/internal/preflight"
	"cloudsync/internal/tasks"
)

var (
	// ErrStopped is returned when a stopped task is asked to start again.
	ErrStopped = errors.New("sync task stopped")
	// ErrNotRunning is returned by TriggerNow when the watch is not active.
	ErrNotRunning = errors.New("sync task not running")

	errWatchClosed = errors.New("directory watch closed")
	errRootRemoved = errors.New("watched directory was removed")
)

// History is the subset of the run store a task uses. A nil History is allowed.
type History interface {
	HasBaseline(ctx context.Context, localPath, remote string) (bool, error)
	Record(ctx context.Context, run history.Run) (string, error)
}

// Runtime is a point-in-time copy of a task's mutable state.
type Runtime struct {
	Running          bool
	StartedAt        time.Time
	LastError        string
	ErrorCount       int
	Debouncing       bool
	Pending          bool
	Syncing          bool
	SyncCount        int
	LastSync         time.Time
	LastSyncDuration time.Duration
	LastSyncOK       bool
}

// Task is the watcher and sync state machine for one TaskConfig.
type Task struct {
	cfg      tasks.TaskConfig
	executor executor.Executor
	history  History
	logger   *slog.Logger

	triggers chan history.Trigger
	syncDone chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	syncs     sync.WaitGroup

	mu       sync.Mutex
	rt       Runtime
	alive    bool
	stopped  bool
	baseline bool
	quit     chan struct{}
	loopDone chan struct{}
}

// New constructs a task. It does not touch the filesystem until Start.
func New(cfg tasks.TaskConfig, exec executor.Executor, hist History, logger *slog.Logger) *Task {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Task{
		cfg:       cfg,
		executor:  exec,
		history:   hist,
		logger:    logging.NewComponentLogger(logger, "synctask").With(logging.String(logging.FieldTask, cfg.Name)),
		triggers:  make(chan history.Trigger, 1),
		syncDone:  make(chan struct{}, 1),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.cfg.Name }

// Config returns the configuration the task was built from.
func (t *Task) Config() tasks.TaskConfig { return t.cfg }

// Alive reports whether the directory watch is active.
func (t *Task) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// Snapshot returns a copy of the runtime state.
func (t *Task) Snapshot() Runtime {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt := t.rt
	rt.Running = t.alive
	return rt
}

// Start validates the local directory, registers the watch on the whole tree
// and launches the event loop. It may be called again after the watch was
// lost; runtime counters carry over. Failures are recorded as the last error.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	if t.alive {
		return nil
	}

	fsw, tr, err := t.openWatch()
	if err != nil {
		t.rt.LastError = err.Error()
		t.rt.ErrorCount++
		return err
	}

	t.alive = true
	t.rt.StartedAt = time.Now()
	t.rt.Debouncing = false
	t.quit = make(chan struct{})
	t.loopDone = make(chan struct{})
	go t.loop(fsw, tr, t.quit, t.loopDone)

	if t.rt.Pending && !t.rt.Syncing {
		t.notifySyncDone()
	}
	t.logger.Info("watching directory",
		logging.String("path", t.cfg.LocalPath),
		logging.String("remote", t.cfg.Remote),
		logging.String("mode", string(t.cfg.Mode)),
		logging.Int("watched_dirs", len(tr.dirs)),
	)
	return nil
}

func (t *Task) openWatch() (*fsnotify.Watcher, *tree, error) {
	if err := preflight.CheckDirectoryAccess(t.cfg.Name, t.cfg.LocalPath).Err(); err != nil {
		return nil, nil, fmt.Errorf("validate local directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create watcher: %w", err)
	}
	tr := newTree(t.cfg.LocalPath, t.cfg.ExcludeResourceForks, fsw)
	if _, err := tr.addDir(tr.root); err != nil {
		_ = fsw.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", tr.root, err)
	}
	return fsw, tr, nil
}

// Stop closes the watch and cancels any pending debounce. An in-flight sync
// is given until ctx is done to finish, after which it is cancelled and
// awaited. Stop is idempotent and terminal.
func (t *Task) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.alive = false
	t.rt.Debouncing = false
	t.rt.Pending = false
	quit, done := t.quit, t.loopDone
	syncing := t.rt.Syncing
	t.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done
	}

	idle := make(chan struct{})
	go func() {
		t.syncs.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		logging.WarnWithContext(t.logger, "sync still running at stop deadline; cancelling", "sync_cancelled",
			logging.String(logging.FieldImpact, "the remote may hold a partial transfer until the next sync"),
			logging.String(logging.FieldErrorHint, "raise daemon.shutdown_timeout_seconds for large transfers"),
		)
		t.cancelRun()
		<-idle
		err = fmt.Errorf("stop %s: %w", t.cfg.Name, ctx.Err())
	}
	t.cancelRun()

	if syncing {
		t.logger.Info("stopped after in-flight sync")
	} else {
		t.logger.Info("stopped")
	}
	return err
}

// TriggerNow requests a sync without waiting for a change. Requests made
// while another is queued are coalesced.
func (t *Task) TriggerNow(reason history.Trigger) error {
	if !t.Alive() {
		return ErrNotRunning
	}
	select {
	case t.triggers <- reason:
	default:
	}
	return nil
}

func (t *Task) loop(fsw *fsnotify.Watcher, tr *tree, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	var timerC <-chan time.Time

	arm := func() {
		timer.Reset(t.cfg.Debounce())
		timerC = timer.C
		t.mu.Lock()
		t.rt.Debouncing = true
		t.mu.Unlock()
	}

	for {
		select {
		case <-quit:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				t.lose(errWatchClosed)
				return
			}
			if tr.rootGone(ev) {
				t.lose(errRootRemoved)
				return
			}
			if tr.relevant(ev) {
				t.logger.Debug("change detected", logging.String("path", ev.Name), logging.String("op", ev.Op.String()))
				arm()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				t.lose(errWatchClosed)
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				arm()
				continue
			}
			logging.WarnWithContext(t.logger, "directory watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some changes may be missed until the next sync"),
			)
		case <-timerC:
			timerC = nil
			t.expire(history.TriggerChange)
		case reason := <-t.triggers:
			timer.Stop()
			timerC = nil
			t.expire(reason)
		case <-t.syncDone:
			t.mu.Lock()
			rerun := t.rt.Pending && !t.rt.Syncing
			if rerun {
				t.rt.Pending = false
			}
			t.mu.Unlock()
			if rerun {
				t.expire(history.TriggerChange)
			}
		}
	}
}

// expire is the debounce-expiry path: start a sync or latch a pending one.
func (t *Task) expire(reason history.Trigger) {
	t.mu.Lock()
	t.rt.Debouncing = false
	if t.rt.Syncing {
		t.rt.Pending = true
		t.mu.Unlock()
		t.logger.Debug("sync in progress; follow-up queued")
		return
	}
	t.rt.Syncing = true
	t.syncs.Add(1)
	t.mu.Unlock()

	go t.runSync(reason)
}

func (t *Task) lose(cause error) {
	t.mu.Lock()
	t.alive = false
	t.rt.Debouncing = false
	t.rt.LastError = cause.Error()
	t.rt.ErrorCount++
	t.mu.Unlock()
	logging.ErrorWithContext(t.logger, "directory watch lost", "watch_lost",
		logging.Error(cause),
		logging.String("path", t.cfg.LocalPath),
		logging.String(logging.FieldErrorHint, "the health monitor will retry once the directory is available"),
	)
}

func (t *Task) notifySyncDone() {
	select {
	case t.syncDone <- struct{}{}:
	default:
	}
}

func (t *Task) runSync(reason history.Trigger) {
	defer t.syncs.Done()

	runID := uuid.NewString()
	ctx := t.runCtx
	logger := t.logger.With(logging.String(logging.FieldRunID, runID))

	resync := t.needsResync(ctx, logger)
	req := executor.Request{
		Task:      t.cfg.Name,
		LocalPath: t.cfg.LocalPath,
		Remote:    t.cfg.Remote,
		Mode:      t.cfg.Mode,
		Excludes:  excludes.Patterns(t.cfg.ExcludeResourceForks),
		Resync:    resync,
	}
	logger.Info("sync started", logging.String("trigger", string(reason)), logging.Bool("resync", resync))

	result := t.executor.Run(ctx, req)

	t.mu.Lock()
	t.rt.Syncing = false
	t.rt.SyncCount++
	t.rt.LastSync = result.Started
	t.rt.LastSyncDuration = result.Duration
	t.rt.LastSyncOK = result.Success()
	if result.Success() {
		if t.cfg.Mode == tasks.ModeBidirectional {
			t.baseline = true
		}
	} else {
		t.rt.ErrorCount++
		t.rt.LastError = result.Err.Error()
	}
	errorCount := t.rt.ErrorCount
	t.mu.Unlock()

	if result.Success() {
		logger.Info("sync finished", logging.Duration("elapsed", result.Duration))
	} else {
		logging.ErrorWithContext(logger, "sync failed", "sync_failed",
			logging.Error(result.Err),
			logging.Int("exit_code", result.ExitCode),
			logging.Int("error_count", errorCount),
			logging.String("output_tail", result.Output),
			logging.String(logging.FieldErrorHint, "the next change will retry; check the remote and rclone output"),
		)
	}
	t.record(ctx, runID, reason, req, result, logger)
	t.notifySyncDone()
}

func (t *Task) needsResync(ctx context.Context, logger *slog.Logger) bool {
	if t.cfg.Mode != tasks.ModeBidirectional {
		return false
	}
	t.mu.Lock()
	known := t.baseline
	t.mu.Unlock()
	if known || t.history == nil {
		return !known
	}
	has, err := t.history.HasBaseline(ctx, t.cfg.LocalPath, t.cfg.Remote)
	if err != nil {
		logging.WarnWithContext(logger, "baseline lookup failed; rebuilding baseline", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this bisync runs with --resync"),
		)
		return true
	}
	return !has
}

func (t *Task) record(ctx context.Context, runID string, reason history.Trigger, req executor.Request, result executor.Result, logger *slog.Logger) {
	if t.history == nil {
		return
	}
	run := history.Run{
		ID:         runID,
		Task:       t.cfg.Name,
		LocalPath:  req.LocalPath,
		Remote:     req.Remote,
		Mode:       req.Mode,
		Resync:     req.Resync,
		Trigger:    reason,
		StartedAt:  result.Started,
		FinishedAt: result.Started.Add(result.Duration),
		ExitCode:   result.ExitCode,
		Success:    result.Success(),
		OutputTail: result.Output,
	}
	if result.Err != nil {
		run.ErrorMessage = result.Err.Error()
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := t.history.Record(recordCtx, run); err != nil {
		logging.WarnWithContext(logger, "failed to record sync run", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run missing from cloudsync history"),
		)
	}
}
