package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cloudsync/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var watchdogLog bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the current daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := "cloudsync.log"
			if watchdogLog {
				name = "watchdog.log"
			}
			path := filepath.Join(cfg.Paths.LogDir, name)

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(tail) == 0 && !follow {
				fmt.Fprintf(stdout, "No log output at %s\n", path)
				return nil
			}
			for _, line := range tail {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				return nil
			}

			followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(followCtx, path, offset, 500*time.Millisecond, func(line string) {
				fmt.Fprintln(stdout, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().BoolVar(&watchdogLog, "watchdog", false, "Show the watchdog log instead of the daemon log")
	return cmd
}
