package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"cloudsync/internal/executor"
	"cloudsync/internal/logging"
	"cloudsync/internal/tasks"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rclone")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func baseOptions(binary string) executor.Options {
	return executor.Options{
		Binary:          binary,
		Transfers:       4,
		Checkers:        8,
		Retries:         3,
		LowLevelRetries: 10,
		ConnectTimeout:  60 * time.Second,
		IOTimeout:       300 * time.Second,
		DiagnosticBytes: 64,
	}
}

func TestBuildArgsUpload(t *testing.T) {
	opts := baseOptions("rclone")
	opts.ExtraArgs = []string{"--fast-list"}
	r := executor.NewRclone(opts, logging.NewNop())

	args := r.BuildArgs(executor.Request{
		LocalPath: "/home/u/vault",
		Remote:    "secure:vault",
		Mode:      tasks.ModeUpload,
		Excludes:  []string{"._*"},
		Resync:    true,
	})
	want := []string{
		"sync", "/home/u/vault", "secure:vault",
		"--transfers", "4", "--checkers", "8",
		"--contimeout", "60s", "--timeout", "300s",
		"--retries", "3", "--low-level-retries", "10",
		"--stats-one-line", "--verbose",
		"--exclude", "._*",
		"--fast-list",
	}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", args, want)
	}
}

func TestBuildArgsBidirectionalResync(t *testing.T) {
	r := executor.NewRclone(baseOptions("rclone"), logging.NewNop())

	first := r.BuildArgs(executor.Request{LocalPath: "/a", Remote: "r:a", Mode: tasks.ModeBidirectional, Resync: true})
	if !slices.Equal(first[:4], []string{"bisync", "/a", "r:a", "--resync"}) {
		t.Fatalf("expected bisync with --resync, got %v", first)
	}
	later := r.BuildArgs(executor.Request{LocalPath: "/a", Remote: "r:a", Mode: tasks.ModeBidirectional})
	if slices.Contains(later, "--resync") {
		t.Fatalf("unexpected --resync in %v", later)
	}
}

func TestRunSuccessCapturesOutput(t *testing.T) {
	record := filepath.Join(t.TempDir(), "args.txt")
	stub := writeStub(t, `echo "$@" > "`+record+`"
echo "Transferred: 1 / 1, 100%"
`)
	r := executor.NewRclone(baseOptions(stub), logging.NewNop())

	result := r.Run(context.Background(), executor.Request{Task: "vault", LocalPath: "/src", Remote: "r:dst", Mode: tasks.ModeUpload})
	if !result.Success() {
		t.Fatalf("expected success, got %v (output %q)", result.Err, result.Output)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "Transferred") {
		t.Fatalf("expected captured output, got %q", result.Output)
	}
	recorded, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	if !strings.HasPrefix(string(recorded), "sync /src r:dst") {
		t.Fatalf("unexpected recorded args %q", recorded)
	}
}

func TestRunFailureKeepsTail(t *testing.T) {
	stub := writeStub(t, `i=0
while [ $i -lt 20 ]; do echo "noise line $i"; i=$((i+1)); done
echo "ERROR : fatal problem" >&2
exit 7
`)
	r := executor.NewRclone(baseOptions(stub), logging.NewNop())

	result := r.Run(context.Background(), executor.Request{LocalPath: "/src", Remote: "r:dst", Mode: tasks.ModeUpload})
	if result.Success() {
		t.Fatal("expected failure")
	}
	if result.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", result.ExitCode)
	}
	if len(result.Output) > 64 {
		t.Fatalf("expected output bounded to 64 bytes, got %d", len(result.Output))
	}
	if !strings.Contains(result.Output, "fatal problem") {
		t.Fatalf("expected tail to keep last line, got %q", result.Output)
	}
}

func TestRunTimeout(t *testing.T) {
	stub := writeStub(t, "exec sleep 30\n")
	opts := baseOptions(stub)
	opts.Timeout = 200 * time.Millisecond
	r := executor.NewRclone(opts, logging.NewNop())

	start := time.Now()
	result := r.Run(context.Background(), executor.Request{LocalPath: "/src", Remote: "r:dst", Mode: tasks.ModeUpload})
	if !errors.Is(result.Err, executor.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", result.Err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout did not stop the process promptly")
	}
}

func TestRunCancelled(t *testing.T) {
	stub := writeStub(t, "exec sleep 30\n")
	r := executor.NewRclone(baseOptions(stub), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	result := r.Run(ctx, executor.Request{LocalPath: "/src", Remote: "r:dst", Mode: tasks.ModeUpload})
	if result.Success() || errors.Is(result.Err, executor.ErrTimeout) {
		t.Fatalf("expected cancellation error, got %v", result.Err)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", result.Err)
	}
}
