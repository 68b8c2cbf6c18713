package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cloudsync/internal/config"
	"cloudsync/internal/daemon"
	"cloudsync/internal/daemonctl"
	"cloudsync/internal/deps"
	"cloudsync/internal/executor"
	"cloudsync/internal/history"
	"cloudsync/internal/instance"
	"cloudsync/internal/ipc"
	"cloudsync/internal/logging"
	"cloudsync/internal/notifications"
	"cloudsync/internal/preflight"
	"cloudsync/internal/supervisor"
	"cloudsync/internal/synctask"
	"cloudsync/internal/tasks"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is forwarded to the watchdog so it relaunches with the same file.
	ConfigPath string
	LogLevel   string
	// Foreground mirrors log output to stdout/stderr.
	Foreground bool
}

// Run starts the cloudsync daemon and blocks until it shuts down.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("cloudsync-%s.log", runID))
	outputs := []string{logPath}
	errOutputs := []string{logPath}
	if opts.Foreground {
		outputs = append([]string{"stdout"}, outputs...)
		errOutputs = append([]string{"stderr"}, errOutputs...)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("session_id", uuid.NewString()))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		logger.Warn("unable to update cloudsync.log link", logging.Error(err))
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "cloudsync-*.log", Exclude: []string{logPath}},
	)

	identity := instance.Identity()
	lock := instance.New(instance.PathsFromConfig(cfg), identity)
	if err := lock.Acquire(); err != nil {
		logging.ErrorWithContext(logger, "another daemon holds the instance lock", "instance_lock_contended",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the running daemon first or use `cloudsync restart`"),
			logging.String(logging.FieldImpact, "this process exits without starting"),
		)
		return err
	}
	superseded := false
	defer func() {
		if err := lock.Release(!superseded); err != nil {
			logger.Warn("release instance lock", logging.Error(err))
		}
	}()

	terminateDuplicates(ctx, logger, cfg, identity)
	if err := os.Remove(cfg.ReloadMarker()); err != nil && !os.IsNotExist(err) {
		logger.Warn("remove stale reload marker", logging.Error(err))
	}

	store := tasks.NewStore(cfg.Paths.TasksFile)
	logStartupChecks(ctx, logger, cfg, store)

	var (
		hist     *history.Store
		recorder synctask.History // stays nil unless the store opened
	)
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.HistoryDB())
		if err != nil {
			logging.WarnWithContext(logger, "history database unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
				logging.String(logging.FieldImpact, "sync runs are not recorded and bisync baselines cannot be detected"),
			)
			hist = nil
		} else {
			defer hist.Close()
			recorder = hist
		}
	}

	sup := supervisor.New(supervisor.Options{
		Loader:      store,
		Executor:    executor.NewRclone(executor.OptionsFromConfig(cfg), logger),
		History:     recorder,
		StopTimeout: cfg.ShutdownTimeout(),
		SyncOnStart: true,
	}, logger)

	ctrl, err := daemon.New(daemon.Options{
		Config:        cfg,
		Supervisor:    sup,
		Lock:          lock,
		History:       hist,
		Notifier:      notifications.NewService(cfg),
		HandleSignals: true,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(ctx, cfg.SocketPath(), ctrl, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if cfg.Daemon.WatchdogEnabled {
		startWatchdog(logger, opts)
	}

	logger.Info("cloudsync daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int("pid", os.Getpid()),
		logging.String("tasks_file", cfg.Paths.TasksFile),
		logging.String("log_path", logPath),
	)

	runErr := ctrl.Run(ctx)
	if errors.Is(runErr, daemon.ErrSuperseded) {
		superseded = true
		logging.WarnWithContext(logger, "daemon superseded; exiting", "daemon_superseded",
			logging.String(logging.FieldImpact, "the other instance keeps supervising tasks"),
		)
		return runErr
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("cloudsync daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}

func terminateDuplicates(ctx context.Context, logger *slog.Logger, cfg *config.Config, identity string) {
	pids, err := instance.FindDuplicates(ctx, identity)
	if err != nil {
		logger.Warn("scan for duplicate daemons", logging.Error(err))
		return
	}
	for _, pid := range pids {
		logger.Warn("terminating duplicate daemon",
			logging.String(logging.FieldEventType, "duplicate_daemon"),
			logging.Int("pid", pid),
		)
		if err := instance.Terminate(ctx, pid, cfg.DuplicateKillTimeout()); err != nil {
			logging.WarnWithContext(logger, "duplicate daemon did not exit", "duplicate_daemon_survived",
				logging.Int("pid", pid),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the duplicate may run syncs without holding the lock"),
			)
		}
	}
}

func logStartupChecks(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *tasks.Store) {
	set, err := store.Load()
	if err != nil {
		logging.WarnWithContext(logger, "task file invalid at startup", "tasks_invalid",
			logging.String("tasks_file", store.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the task file; it is reloaded automatically on save"),
		)
	}
	for _, result := range preflight.Failed(preflight.RunAll(cfg, set)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	version, err := deps.RcloneVersion(ctx, cfg.Executor.RcloneBinary)
	if err != nil {
		version = "unavailable"
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("rclone_binary", cfg.Executor.RcloneBinary),
		logging.String("rclone_version", version),
		logging.Int("tasks", len(set)),
		logging.Bool("history_enabled", cfg.History.Enabled),
		logging.Bool("watchdog_enabled", cfg.Daemon.WatchdogEnabled),
	)
}

func startWatchdog(logger *slog.Logger, opts Options) {
	exe, err := os.Executable()
	if err == nil {
		err = daemonctl.LaunchWatchdog(exe, daemonctl.LaunchOptions{ConfigPath: opts.ConfigPath, LogLevel: opts.LogLevel}, os.Getpid())
	}
	if err != nil {
		logging.WarnWithContext(logger, "watchdog not started", "watchdog_launch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a crashed daemon will not be restarted automatically"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "cloudsync.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
