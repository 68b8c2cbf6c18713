package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "vault")
	requireContains(t, out, "stopped")
	requireContains(t, out, "rclone")
}

func TestStatusAndSyncWithDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startTestDaemon(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "vault")

	out, _, err = runCLI(t, []string{"sync", "vault"}, env.configPath)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	requireContains(t, out, "Sync queued for vault")

	deadline := time.Now().Add(2 * time.Second)
	for env.fake.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected queued sync to run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, _, err := runCLI(t, []string{"sync", "missing"}, env.configPath); err == nil {
		t.Fatal("expected error syncing an unknown task")
	}
}

func TestReloadViaDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startTestDaemon(t)

	out, _, err := runCLI(t, []string{"reload"}, env.configPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	requireContains(t, out, "Reloaded 1 task(s)")
}

func TestCommandsWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	if _, _, err := runCLI(t, []string{"reload"}, env.configPath); err == nil {
		t.Fatal("expected reload to fail without a daemon")
	}
	if _, _, err := runCLI(t, []string{"sync", "vault"}, env.configPath); err == nil {
		t.Fatal("expected sync to fail without a daemon")
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No sync runs recorded")
}

func TestLogsPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log output")

	logPath := filepath.Join(env.cfg.Paths.LogDir, "cloudsync.log")
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, _, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

func TestTestNotifyDisabled(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications are disabled")
}
