package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DaemonSubcommand is the argument that marks a cloudsync daemon process.
const DaemonSubcommand = "daemon"

// Identity returns the base name of the running executable, without any
// platform suffix.
func Identity() string {
	exe, err := os.Executable()
	if err != nil {
		return "cloudsync"
	}
	return trimExe(filepath.Base(exe))
}

func trimExe(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

// ProcessAlive reports whether pid names a running process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// IsDaemon reports whether pid is a live cloudsync daemon.
func IsDaemon(pid int, identity string) bool {
	if !ProcessAlive(pid) {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	args, err := proc.CmdlineSlice()
	if err != nil {
		return false
	}
	return matchesDaemon(args, identity)
}

func matchesDaemon(args []string, identity string) bool {
	if len(args) < 2 || identity == "" {
		return false
	}
	if trimExe(filepath.Base(args[0])) != trimExe(identity) {
		return false
	}
	return subcommand(args[1:]) == DaemonSubcommand
}

// valueFlags are the root flags that consume the following argument.
var valueFlags = map[string]bool{"--config": true, "-c": true, "--log-level": true}

// subcommand returns the first positional argument, so a task named like a
// subcommand ("cloudsync sync daemon") is not mistaken for one.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case valueFlags[arg]:
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return arg
		}
	}
	return ""
}

// FindDuplicates lists cloudsync daemon processes other than this one.
func FindDuplicates(ctx context.Context, identity string) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := os.Getpid()
	var pids []int
	for _, proc := range procs {
		if int(proc.Pid) == self {
			continue
		}
		args, err := proc.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		if matchesDaemon(args, identity) {
			pids = append(pids, int(proc.Pid))
		}
	}
	slices.Sort(pids)
	return pids, nil
}

// Terminate asks pid to exit, waits up to timeout, then kills it.
func Terminate(ctx context.Context, pid int, timeout time.Duration) error {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}
	if err := proc.TerminateWithContext(ctx); err != nil && ProcessAlive(pid) {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	if waitExit(ctx, pid, timeout) {
		return nil
	}
	if err := proc.KillWithContext(ctx); err != nil && ProcessAlive(pid) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	if !waitExit(ctx, pid, time.Second) {
		return fmt.Errorf("pid %d still running after kill", pid)
	}
	return nil
}

func waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !ProcessAlive(pid)
		case <-time.After(50 * time.Millisecond):
		}
	}
}
