package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloudsync/internal/tasks"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Touch appends a timestamp to path, creating it if needed, so every call
// produces a write event.
func Touch(t testing.TB, path string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(time.Now().Format(time.RFC3339Nano) + "\n"); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Task returns an active upload task rooted at a fresh temp directory.
func Task(t testing.TB, name string) tasks.TaskConfig {
	t.Helper()

	return tasks.TaskConfig{
		Name:            name,
		LocalPath:       t.TempDir(),
		Remote:          "test:" + name,
		Mode:            tasks.ModeUpload,
		DebounceSeconds: 0.1,
		Status:          tasks.StatusActive,
	}
}

// WriteTasks saves set to path through the task store.
func WriteTasks(t testing.TB, path string, set tasks.Set) {
	t.Helper()

	if err := tasks.NewStore(path).Save(set); err != nil {
		t.Fatalf("save tasks: %v", err)
	}
}
