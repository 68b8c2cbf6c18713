// Package configwatch turns edits of the task file into debounced reload
// triggers.
//
// The parent directory is watched rather than the file itself, so atomic
// saves (write temp, rename over) keep producing events without re-adding a
// watch.
package configwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cloudsync/internal/logging"
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watcher observes one file and emits on Reloads after a quiet period.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	reloads  chan struct{}

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	armed   uint64
	started bool
	stopped bool
	done    chan struct{}
}

// New constructs a watcher for path. Start must be called to begin watching.
func New(path string, debounce time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "configwatch"),
		reloads:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Reloads delivers one value per debounced burst of changes. Triggers that
// arrive while a previous one is unconsumed are coalesced.
func (w *Watcher) Reloads() <-chan struct{} {
	return w.reloads
}

// Start begins watching the file's directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.New("config watcher already stopped")
	}
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fsw = fsw
	w.started = true
	go w.loop(fsw)

	w.logger.Info("watching task file", logging.String("path", w.path))
	return nil
}

// Stop ends the watch and cancels any pending trigger. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	started := w.started
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	if started {
		<-w.done
	}
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&relevantOps == 0 {
				continue
			}
			w.logger.Debug("task file event", logging.String("op", event.Op.String()))
			w.arm()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "task file watch error", "config_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "edits may be missed until the daemon reloads"),
			)
		}
	}
}

func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.armed++
	generation := w.armed
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(generation) })
}

func (w *Watcher) fire(generation uint64) {
	w.mu.Lock()
	current := !w.stopped && generation == w.armed
	if current {
		w.timer = nil
	}
	w.mu.Unlock()
	if !current {
		return
	}
	select {
	case w.reloads <- struct{}{}:
		w.logger.Info("task file changed; reload requested")
	default:
	}
}
