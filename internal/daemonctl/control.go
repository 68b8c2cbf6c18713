package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cloudsync/internal/config"
	"cloudsync/internal/fileutil"
	"cloudsync/internal/instance"
	"cloudsync/internal/ipc"
)

// ErrDaemonNotRunning indicates neither IPC nor the PID file lead to a live daemon.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args(subcommand string) []string {
	args := []string{subcommand}
	if cfg := strings.TrimSpace(o.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// Launch starts a detached cloudsync daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	return spawn(executablePath, opts.args(instance.DaemonSubcommand))
}

// LaunchWatchdog starts the detached watchdog companion for the daemon pid.
func LaunchWatchdog(executablePath string, opts LaunchOptions, pid int) error {
	args := append(opts.args("watchdog"), "--pid", strconv.Itoa(pid))
	return spawn(executablePath, args)
}

func spawn(executablePath string, args []string) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}
	proc := exec.Command(executablePath, args...)
	detach(proc)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", args[0], err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers on the socket.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		result := StartResult{State: StartStateAlreadyRunning}
		if status, statusErr := client.Status(); statusErr == nil {
			result.PID = status.PID
		}
		return result, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()
	result := StartResult{State: StartStateStarted}
	if status, statusErr := client.Status(); statusErr == nil {
		result.PID = status.PID
	}
	return result, nil
}

// WaitForShutdown waits for daemon IPC to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return nil
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate requests a graceful stop over IPC and terminates the
// process if it is still alive after gracePeriod. Without IPC, a live daemon
// named by the PID file is terminated directly. Forced stops leave the stop
// marker so the watchdog does not respawn the daemon.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	socketPath := cfg.SocketPath()
	result := StopResult{PID: daemonPID(cfg)}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		if status, statusErr := client.Status(); statusErr == nil {
			result.PID = status.PID
		}
		resp, stopErr := client.Stop()
		_ = client.Close()
		if stopErr == nil && resp != nil {
			result.StopAcknowledged = resp.Stopped
		}
		_ = WaitForShutdown(socketPath, gracePeriod)
	} else if !isDaemonUnavailable(err) {
		return StopResult{}, err
	}

	if result.PID == os.Getpid() {
		return result, fmt.Errorf("refusing to terminate current process (pid %d)", result.PID)
	}
	if result.PID <= 0 || !instance.ProcessAlive(result.PID) {
		if !result.StopAcknowledged {
			return result, ErrDaemonNotRunning
		}
		return result, nil
	}
	if result.StopAcknowledged {
		// The daemon may still be stopping tasks; give it the grace period.
		if waitGone(result.PID, gracePeriod) {
			return result, nil
		}
	} else if !instance.IsDaemon(result.PID, instance.Identity()) {
		return result, ErrDaemonNotRunning
	}

	// The marker must exist before the process dies or the watchdog respawns it.
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := fileutil.WriteFileAtomic(cfg.StopMarker(), []byte(stamp), 0o644); err != nil {
		return result, fmt.Errorf("write stop marker: %w", err)
	}
	if err := instance.Terminate(context.Background(), result.PID, cfg.DuplicateKillTimeout()); err != nil {
		_ = fileutil.RemoveIfExists(cfg.StopMarker())
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	_ = fileutil.RemoveIfExists(cfg.PIDFile())
	_ = fileutil.RemoveIfExists(socketPath)
	return result, nil
}

func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for instance.ProcessAlive(pid) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(cfg.SocketPath(), executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// ReloadMethod names the channel a reload request travelled through.
type ReloadMethod string

const (
	ReloadViaIPC    ReloadMethod = "ipc"
	ReloadViaSignal ReloadMethod = "signal"
	ReloadViaMarker ReloadMethod = "marker"
)

// ReloadResult describes a reload request.
type ReloadResult struct {
	Method ReloadMethod
	// Applied is true only when the daemon confirmed the reconcile.
	Applied bool
	Tasks   int
	Message string
}

// RequestReload asks the daemon to reload its task file, preferring IPC,
// then the reload signal, then the reload marker.
func RequestReload(cfg *config.Config) (ReloadResult, error) {
	client, err := ipc.Dial(cfg.SocketPath())
	if err == nil {
		defer client.Close()
		resp, callErr := client.Reload()
		if callErr == nil {
			return ReloadResult{Method: ReloadViaIPC, Applied: resp.Reloaded, Tasks: resp.Tasks, Message: resp.Message}, nil
		}
	}

	pid := daemonPID(cfg)
	if pid <= 0 || !instance.IsDaemon(pid, instance.Identity()) {
		return ReloadResult{}, ErrDaemonNotRunning
	}
	if err := signalReload(pid); err == nil {
		return ReloadResult{Method: ReloadViaSignal, Message: "reload signal sent"}, nil
	}
	if err := fileutil.WriteFileAtomic(cfg.ReloadMarker(), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return ReloadResult{}, fmt.Errorf("write reload marker: %w", err)
	}
	return ReloadResult{Method: ReloadViaMarker, Message: "reload marker written"}, nil
}

func daemonPID(cfg *config.Config) int {
	pid, err := instance.ReadPID(cfg.PIDFile())
	if err != nil {
		return 0
	}
	return pid
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
