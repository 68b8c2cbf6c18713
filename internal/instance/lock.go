package instance

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"cloudsync/internal/config"
	"cloudsync/internal/fileutil"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the lock.
	ErrAlreadyRunning = errors.New("another cloudsync daemon is already running")
	// ErrLockLost is reported by Verify when the lock or PID file no longer
	// belongs to this process.
	ErrLockLost = errors.New("instance lock lost")
)

// Paths locates the files that make up the instance lock.
type Paths struct {
	Lock       string
	PID        string
	StopMarker string
}

// PathsFromConfig derives lock paths from the daemon settings.
func PathsFromConfig(cfg *config.Config) Paths {
	return Paths{Lock: cfg.LockFile(), PID: cfg.PIDFile(), StopMarker: cfg.StopMarker()}
}

// Lock is the single-instance lock held by a running daemon.
type Lock struct {
	paths    Paths
	identity string
	pid      int
	fl       *flock.Flock
}

// New prepares a lock. identity is the executable base name used to decide
// whether a PID recorded on disk belongs to a cloudsync daemon.
func New(paths Paths, identity string) *Lock {
	return &Lock{
		paths:    paths,
		identity: identity,
		pid:      os.Getpid(),
		fl:       flock.New(paths.Lock),
	}
}

// Paths returns the files managed by the lock.
func (l *Lock) Paths() Paths { return l.paths }

// Acquire takes the lock without blocking. Contention returns an error
// wrapping ErrAlreadyRunning that names the recorded PID when known.
func (l *Lock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.paths.Lock, err)
	}
	if !ok {
		if pid, readErr := ReadPID(l.paths.PID); readErr == nil {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}

	if pid, readErr := ReadPID(l.paths.PID); readErr == nil && pid != l.pid && IsDaemon(pid, l.identity) {
		_ = l.fl.Unlock()
		return fmt.Errorf("%w (pid %d holds %s)", ErrAlreadyRunning, pid, l.paths.PID)
	}

	if err := WritePID(l.paths.PID, l.pid); err != nil {
		_ = l.fl.Unlock()
		return err
	}
	if err := fileutil.RemoveIfExists(l.paths.StopMarker); err != nil {
		_ = l.fl.Unlock()
		return fmt.Errorf("remove stale stop marker: %w", err)
	}
	return nil
}

// Held reports whether this process still holds the flock.
func (l *Lock) Held() bool {
	return l.fl.Locked()
}

// Verify is the daemon's periodic self-check. A missing PID file is
// rewritten; a PID file naming another process, or a released flock, yields
// ErrLockLost.
func (l *Lock) Verify() (rewritten bool, err error) {
	if !l.Held() {
		return false, fmt.Errorf("%w: flock on %s not held", ErrLockLost, l.paths.Lock)
	}
	pid, err := ReadPID(l.paths.PID)
	if err != nil {
		// Missing or unreadable: the flock is still ours, so restore the record.
		if err := WritePID(l.paths.PID, l.pid); err != nil {
			return false, err
		}
		return true, nil
	}
	if pid != l.pid {
		return false, fmt.Errorf("%w: pid file names %d", ErrLockLost, pid)
	}
	return false, nil
}

// Release drops the lock. An intentional release leaves the stop marker so the
// watchdog does not respawn the daemon. The PID file is removed only while it
// still names this process.
func (l *Lock) Release(intentional bool) error {
	var errs []error
	if intentional {
		stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
		if err := fileutil.WriteFileAtomic(l.paths.StopMarker, []byte(stamp), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write stop marker: %w", err))
		}
	}
	if pid, err := ReadPID(l.paths.PID); err == nil && pid == l.pid {
		if err := fileutil.RemoveIfExists(l.paths.PID); err != nil {
			errs = append(errs, fmt.Errorf("remove pid file: %w", err))
		}
	}
	if err := l.fl.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}

// ReadPID parses a PID file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// WritePID records pid atomically.
func WritePID(path string, pid int) error {
	if err := fileutil.WriteFileAtomic(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
