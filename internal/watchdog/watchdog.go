// Package watchdog implements the companion process that respawns a crashed
// daemon.
//
// The watchdog is started detached by the daemon with the daemon's PID. It
// never holds the instance lock; it only reads the PID file and the stop
// marker and decides whether the daemon it was born for is still the one in
// charge.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudsync/internal/fileutil"
	"cloudsync/internal/instance"
	"cloudsync/internal/logging"
)

// Verdict is the outcome of one watchdog check.
type Verdict int

const (
	// Healthy means the watched daemon is still running and in charge.
	Healthy Verdict = iota
	// IntentionalStop means the daemon exited gracefully; the marker was consumed.
	IntentionalStop
	// Superseded means another live daemon now owns the PID file.
	Superseded
	// Crashed means the daemon is gone without having stopped gracefully.
	Crashed
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case IntentionalStop:
		return "intentional_stop"
	case Superseded:
		return "superseded"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Options configure a Watchdog.
type Options struct {
	// PID is the daemon process this watchdog was spawned for.
	PID        int
	PIDFile    string
	StopMarker string
	Interval   time.Duration
	// Launch starts a replacement daemon.
	Launch func() error
	// Alive reports process liveness; defaults to instance.ProcessAlive.
	Alive func(pid int) bool
	// Notifier is told about respawns. Optional.
	Notifier Notifier
}

// Notifier receives crash recoveries.
type Notifier interface {
	NotifyDaemonRespawned(ctx context.Context, crashedPID int) error
}

// Watchdog polls the daemon's lifecycle files.
type Watchdog struct {
	opts   Options
	logger *slog.Logger
}

// New constructs a watchdog.
func New(opts Options, logger *slog.Logger) (*Watchdog, error) {
	if opts.PID <= 0 {
		return nil, errors.New("watchdog requires the daemon pid")
	}
	if opts.Launch == nil {
		return nil, errors.New("watchdog requires a launch function")
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Alive == nil {
		opts.Alive = instance.ProcessAlive
	}
	return &Watchdog{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "watchdog").With(logging.Int("daemon_pid", opts.PID)),
	}, nil
}

// Check inspects the lifecycle files once. An IntentionalStop verdict
// consumes the stop marker.
func (w *Watchdog) Check() Verdict {
	if exists, _ := fileutil.Exists(w.opts.StopMarker); exists {
		if err := fileutil.RemoveIfExists(w.opts.StopMarker); err != nil {
			w.logger.Warn("failed to consume stop marker", logging.Error(err))
		}
		return IntentionalStop
	}

	pid, err := instance.ReadPID(w.opts.PIDFile)
	if err != nil {
		// The daemon's self-check rewrites a lost PID file; only a dead
		// process counts as a crash.
		if w.opts.Alive(w.opts.PID) {
			return Healthy
		}
		return Crashed
	}
	if pid != w.opts.PID {
		if w.opts.Alive(pid) {
			return Superseded
		}
		return Crashed
	}
	if w.opts.Alive(pid) {
		return Healthy
	}
	return Crashed
}

// Run checks every interval until the daemon stops, is superseded, or has
// been respawned after a crash.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started", logging.Duration("interval", w.opts.Interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		verdict := w.Check()
		switch verdict {
		case Healthy:
			continue
		case IntentionalStop:
			w.logger.Info("daemon stopped intentionally; watchdog exiting")
			return nil
		case Superseded:
			w.logger.Info("daemon superseded by a newer instance; watchdog exiting")
			return nil
		case Crashed:
			logging.ErrorWithContext(w.logger, "daemon exited without a clean shutdown; respawning", "daemon_crashed",
				logging.String(logging.FieldImpact, "directories were not synced while the daemon was down"),
				logging.String(logging.FieldErrorHint, "inspect the previous daemon log for the cause"),
			)
			if err := w.opts.Launch(); err != nil {
				return fmt.Errorf("respawn daemon: %w", err)
			}
			w.logger.Info("replacement daemon launched")
			if w.opts.Notifier != nil {
				if err := w.opts.Notifier.NotifyDaemonRespawned(ctx, w.opts.PID); err != nil {
					w.logger.Warn("respawn notification not delivered", logging.Error(err))
				}
			}
			return nil
		}
	}
}
