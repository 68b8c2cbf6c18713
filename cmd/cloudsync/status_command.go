package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cloudsync/internal/daemonctl"
)

var taskTableHeaders = []string{"Task", "State", "Mode", "Remote", "Last Sync", "Errors", "Restarts", "Last Error"}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(snap, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snap.Dependencies, snap.RcloneVersion, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Tasks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snap.TaskFileError != "" {
				fmt.Fprintln(stdout, renderStatusLine("Task file", statusError, snap.TaskFileError, colorize))
			}
			if len(snap.Tasks) == 0 {
				fmt.Fprintf(stdout, "No tasks defined in %s\n", cfg.Paths.TasksFile)
				return nil
			}
			fmt.Fprint(stdout, renderTable(taskTableHeaders, buildTaskRows(snap.Tasks, snap.LastRuns),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
			return nil
		},
	}
}
