package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cloudsync/internal/config"
	"cloudsync/internal/fileutil"
	"cloudsync/internal/history"
	"cloudsync/internal/ipc"
)

var historyTableHeaders = []string{"Started", "Task", "Trigger", "Duration", "Result", "Detail"}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [task]",
		Short: "Show recent sync runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			task := ""
			if len(args) == 1 {
				task = strings.TrimSpace(args[0])
			}

			runs, err := fetchRuns(cmd, cfg, task, limit)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(stdout, "No sync runs recorded")
				return nil
			}
			fmt.Fprint(stdout, renderTable(historyTableHeaders, buildHistoryRows(runs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

// fetchRuns asks the daemon first and reads the database directly when the
// daemon is offline.
func fetchRuns(cmd *cobra.Command, cfg *config.Config, task string, limit int) ([]ipc.Run, error) {
	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		defer client.Close()
		resp, err := client.History(task, limit)
		if err != nil {
			return nil, err
		}
		return resp.Runs, nil
	}

	if !cfg.History.Enabled {
		return nil, fmt.Errorf("sync history is disabled in the configuration")
	}
	if exists, _ := fileutil.Exists(cfg.HistoryDB()); !exists {
		return nil, nil
	}
	store, err := history.Open(cfg.HistoryDB())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	stored, err := store.Recent(cmd.Context(), task, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]ipc.Run, 0, len(stored))
	for _, run := range stored {
		runs = append(runs, ipc.FromHistory(run))
	}
	return runs, nil
}

func buildHistoryRows(runs []ipc.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		result := "ok"
		detail := ""
		if !run.Success {
			result = fmt.Sprintf("failed (exit %d)", run.ExitCode)
			detail = run.Error
		}
		trigger := run.Trigger
		if run.Resync {
			trigger += " +resync"
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Task,
			trigger,
			run.Duration.Round(100 * time.Millisecond).String(),
			result,
			truncate(detail, 48),
		})
	}
	return rows
}
