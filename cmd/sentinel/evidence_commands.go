package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sentinel/internal/ipc"
)

func newEvidenceCommand(ctx *commandContext) *cobra.Command {
	evidenceCmd := &cobra.Command{
		Use:   "evidence",
		Short: "Inspect and manage captured evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List evidence records for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EvidenceList(args[0])
				if err != nil {
					return err
				}
				if len(resp.Records) == 0 {
					fmt.Fprintln(stdout, "No evidence recorded for this session")
					return nil
				}
				rows := make([][]string, 0, len(resp.Records))
				for _, record := range resp.Records {
					rows = append(rows, []string{
						record.ID,
						record.Type,
						record.Priority,
						record.CapturedAt.Local().Format("15:04:05"),
						record.UploadStatus,
						strconv.Itoa(record.UploadAttempts),
					})
				}
				headers := []string{"ID", "Type", "Priority", "Captured", "Upload", "Attempts"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
				fmt.Fprintln(stdout, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry [record-id...]",
		Short: "Requeue failed uploads (all failed records when no IDs given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.EvidenceRetry(args)
				if err != nil {
					return err
				}
				if resp.Updated == 0 {
					fmt.Fprintln(stdout, "No failed records to requeue")
					return nil
				}
				fmt.Fprintf(stdout, "Requeued %d record(s) for upload\n", resp.Updated)
				return nil
			})
		},
	}

	evidenceCmd.AddCommand(listCmd, retryCmd)
	return evidenceCmd
}
