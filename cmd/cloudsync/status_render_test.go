package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"cloudsync/internal/deps"
	"cloudsync/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]deps.Status{
		{Name: "rclone", Command: "rclone", Available: true},
		{Name: "extra", Detail: `binary "extra" not found`, Optional: true},
	}, "rclone v1.66.0", false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[OK] rclone v1.66.0 (command: rclone)") {
		t.Fatalf("unexpected rclone line %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] binary \"extra\" not found") {
		t.Fatalf("unexpected optional line %q", lines[1])
	}
}

func TestBuildTaskRows(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := buildTaskRows([]ipc.TaskStatus{
		{Name: "vault", Mode: "upload", Remote: "secure:vault", Status: "active", Running: true, Syncing: true},
		{Name: "photos", Mode: "bidirectional", Remote: "gdrive:photos", Status: "active", ErrorCount: 2, LastError: "exit status 1:\n  boom"},
	}, map[string]ipc.Run{
		"photos": {ID: "r1", StartedAt: finished.Add(-time.Minute), Duration: time.Minute, Success: false},
	})
	if rows[0][1] != "syncing" || rows[0][4] != "-" {
		t.Fatalf("unexpected vault row %v", rows[0])
	}
	if rows[1][1] != "stopped" || rows[1][5] != "2" || rows[1][7] != "exit status 1: boom" {
		t.Fatalf("unexpected photos row %v", rows[1])
	}
	if !strings.HasSuffix(rows[1][4], "(failed)") {
		t.Fatalf("expected failed last run from history, got %q", rows[1][4])
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "only") || strings.Count(out, "\n") < 4 {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}
