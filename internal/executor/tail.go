package executor

import (
	"bytes"
	"strings"
	"sync"
)

// tailWriter keeps the last max bytes written and forwards complete lines.
type tailWriter struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	partial []byte
	onLine  func(string)
}

func newTailWriter(max int, onLine func(string)) *tailWriter {
	return &tailWriter{max: max, onLine: onLine}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-w.max:]...)
	}

	if w.onLine != nil {
		w.partial = append(w.partial, p...)
		for {
			idx := bytes.IndexByte(w.partial, '\n')
			if idx < 0 {
				break
			}
			if line := strings.TrimSpace(string(w.partial[:idx])); line != "" {
				w.onLine(line)
			}
			w.partial = w.partial[idx+1:]
		}
	}
	return len(p), nil
}

// Flush forwards any trailing text that was not newline terminated.
func (w *tailWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.onLine != nil {
		if line := strings.TrimSpace(string(w.partial)); line != "" {
			w.onLine(line)
		}
	}
	w.partial = nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
