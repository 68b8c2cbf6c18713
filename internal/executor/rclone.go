package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"cloudsync/internal/config"
	"cloudsync/internal/logging"
	"cloudsync/internal/tasks"
)

const killGrace = 5 * time.Second

// Options control the rclone command line.
type Options struct {
	Binary          string
	Timeout         time.Duration
	Transfers       int
	Checkers        int
	Retries         int
	LowLevelRetries int
	ConnectTimeout  time.Duration
	IOTimeout       time.Duration
	ExtraArgs       []string
	DiagnosticBytes int
}

// OptionsFromConfig maps the [executor] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	ex := cfg.Executor
	return Options{
		Binary:          ex.RcloneBinary,
		Timeout:         cfg.ExecutorTimeout(),
		Transfers:       ex.Transfers,
		Checkers:        ex.Checkers,
		Retries:         ex.Retries,
		LowLevelRetries: ex.LowLevelRetries,
		ConnectTimeout:  time.Duration(ex.ConnectTimeoutSeconds) * time.Second,
		IOTimeout:       time.Duration(ex.IOTimeoutSeconds) * time.Second,
		ExtraArgs:       append([]string(nil), ex.ExtraArgs...),
		DiagnosticBytes: ex.DiagnosticBytes,
	}
}

// Rclone runs `rclone sync` for upload tasks and `rclone bisync` for
// bidirectional tasks.
type Rclone struct {
	opts   Options
	logger *slog.Logger
}

// NewRclone constructs the rclone executor.
func NewRclone(opts Options, logger *slog.Logger) *Rclone {
	if opts.Binary == "" {
		opts.Binary = "rclone"
	}
	if opts.DiagnosticBytes <= 0 {
		opts.DiagnosticBytes = config.DefaultDiagnosticBytes
	}
	return &Rclone{opts: opts, logger: logging.NewComponentLogger(logger, "executor")}
}

// BuildArgs returns the argument list (without the binary) for req.
func (r *Rclone) BuildArgs(req Request) []string {
	var args []string
	switch req.Mode {
	case tasks.ModeBidirectional:
		args = append(args, "bisync", req.LocalPath, req.Remote)
		if req.Resync {
			args = append(args, "--resync")
		}
	default:
		args = append(args, "sync", req.LocalPath, req.Remote)
	}

	o := r.opts
	if o.Transfers > 0 {
		args = append(args, "--transfers", strconv.Itoa(o.Transfers))
	}
	if o.Checkers > 0 {
		args = append(args, "--checkers", strconv.Itoa(o.Checkers))
	}
	if o.ConnectTimeout > 0 {
		args = append(args, "--contimeout", formatSeconds(o.ConnectTimeout))
	}
	if o.IOTimeout > 0 {
		args = append(args, "--timeout", formatSeconds(o.IOTimeout))
	}
	args = append(args,
		"--retries", strconv.Itoa(o.Retries),
		"--low-level-retries", strconv.Itoa(o.LowLevelRetries),
		"--stats-one-line",
		"--verbose",
	)
	for _, pattern := range req.Excludes {
		args = append(args, "--exclude", pattern)
	}
	return append(args, o.ExtraArgs...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}

// Run executes the request and blocks until rclone exits.
func (r *Rclone) Run(ctx context.Context, req Request) Result {
	args := r.BuildArgs(req)
	result := Result{Args: args, Started: time.Now(), ExitCode: -1}
	logger := r.logger.With(logging.String(logging.FieldTask, req.Task))

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	output := newTailWriter(r.opts.DiagnosticBytes, func(line string) {
		logger.Debug("rclone output", logging.String("line", line))
	})

	cmd := exec.CommandContext(runCtx, r.opts.Binary, args...) //nolint:gosec
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = killGrace

	logger.Debug("starting rclone",
		logging.String("mode", string(req.Mode)),
		logging.Bool("resync", req.Resync),
		logging.Any("args", args),
	)
	err := cmd.Run()
	output.Flush()
	result.Duration = time.Since(result.Started)
	result.Output = output.String()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Err = fmt.Errorf("%w after %s", ErrTimeout, r.opts.Timeout)
	case ctx.Err() != nil:
		result.Err = fmt.Errorf("sync cancelled: %w", ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Err = fmt.Errorf("rclone exited with code %d", exitErr.ExitCode())
		} else {
			result.Err = fmt.Errorf("run rclone: %w", err)
		}
	}
	return result
}
