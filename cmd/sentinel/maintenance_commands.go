package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinel/internal/ipc"
)

func newCompressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "compress",
		Short: "Archive evidence for ended sessions whose uploads have settled",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Compress()
				if err != nil {
					return err
				}
				if len(resp.Compressed) == 0 {
					fmt.Fprintln(stdout, "No sessions eligible for compression")
					if resp.Skipped > 0 {
						fmt.Fprintf(stdout, "Skipped %d session(s) with unsettled uploads\n", resp.Skipped)
					}
					return nil
				}
				for _, sessionID := range resp.Compressed {
					fmt.Fprintf(stdout, "Archived session %s\n", sessionID)
				}
				fmt.Fprintf(stdout, "Reclaimed %s\n", formatBytes(uint64(resp.Reclaimed)))
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				if !resp.Sent {
					fmt.Fprintf(stdout, "Notification not sent: %s\n", resp.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Test notification sent")
				return nil
			})
		},
	}
}
