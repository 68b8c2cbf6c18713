package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloudsync/internal/daemonctl"
	"cloudsync/internal/daemonrun"
	"cloudsync/internal/logging"
	"cloudsync/internal/notifications"
	"cloudsync/internal/watchdog"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Run the cloudsync daemon (internal)",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := ctx.launchOptions()
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				ConfigPath: opts.ConfigPath,
				LogLevel:   opts.LogLevel,
				Foreground: foreground,
			})
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Mirror log output to the terminal")
	return cmd
}

func newWatchdogCommand(ctx *commandContext) *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:         "watchdog",
		Short:       "Respawn the daemon if it crashes (internal)",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "watchdog.log")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			launchOpts := ctx.launchOptions()
			dog, err := watchdog.New(watchdog.Options{
				PID:        pid,
				PIDFile:    cfg.PIDFile(),
				StopMarker: cfg.StopMarker(),
				Interval:   cfg.WatchdogInterval(),
				Launch:     func() error { return daemonctl.Launch(exe, launchOpts) },
				Notifier:   notifications.NewService(cfg),
			}, logger)
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return dog.Run(runCtx)
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "PID of the daemon to watch")
	return cmd
}

