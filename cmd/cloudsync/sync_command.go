package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cloudsync/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <task>",
		Short: "Queue an immediate sync for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sync(name)
				if err != nil {
					return err
				}
				if resp.Queued {
					fmt.Fprintf(cmd.OutOrStdout(), "Sync queued for %s\n", name)
				}
				return nil
			})
		},
	}
}
