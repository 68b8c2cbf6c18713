package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"cloudsync/internal/config"
	"cloudsync/internal/tasks"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if result.Err() != nil {
		t.Fatalf("expected nil error for passed result, got %v", result.Err())
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Err() == nil {
		t.Fatal("expected error for failed result")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestRunAllSkipsPausedTasks(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Executor.RcloneBinary = "clearly-not-present-rclone"

	set := tasks.Set{
		"active": {Name: "active", LocalPath: t.TempDir(), Status: tasks.StatusActive},
		"paused": {Name: "paused", LocalPath: filepath.Join(t.TempDir(), "gone"), Status: tasks.StatusPaused},
	}
	results := RunAll(&cfg, set)
	if len(results) != 3 {
		t.Fatalf("expected state, rclone and one task check, got %d: %+v", len(results), results)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "rclone" {
		t.Fatalf("expected only the rclone check to fail, got %+v", failed)
	}
}
