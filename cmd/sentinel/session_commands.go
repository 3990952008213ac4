package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sentinel/internal/ipc"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage monitoring sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var startUser string
	var startTrigger string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Begin a monitoring session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionStart(startUser, startTrigger)
				if err != nil {
					return err
				}
				if !resp.Started {
					fmt.Fprintf(stdout, "Session not started: %s\n", resp.Message)
					return nil
				}
				fmt.Fprintf(stdout, "Monitoring session %s started\n", resp.Session.ID)
				return nil
			})
		},
	}
	startCmd.Flags().StringVar(&startUser, "user", "", "User identifier for the session")
	startCmd.Flags().StringVar(&startTrigger, "trigger", "", "Trigger method (manual, voice, shake)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "End the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionStop()
				if err != nil {
					return err
				}
				if !resp.Stopped || resp.Summary == nil {
					fmt.Fprintln(stdout, "No active session")
					return nil
				}
				summary := resp.Summary
				fmt.Fprintf(stdout, "Session %s ended\n", summary.ID)
				fmt.Fprintf(stdout, "  Evidence records: %d\n", summary.EvidenceTotal)
				fmt.Fprintf(stdout, "  Emergency contacted: %s\n", yesNo(summary.EmergencyContacted))
				return nil
			})
		},
	}

	var escalateReason string
	escalateCmd := &cobra.Command{
		Use:   "escalate",
		Short: "Escalate the active session to emergency",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Escalate(escalateReason)
				if err != nil {
					return err
				}
				if !resp.Escalated {
					fmt.Fprintf(stdout, "Escalation rejected: %s\n", resp.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Session escalated to emergency")
				return nil
			})
		},
	}
	escalateCmd.Flags().StringVar(&escalateReason, "reason", "", "Reason recorded with the escalation")

	noteCmd := &cobra.Command{
		Use:   "note <text>",
		Short: "Attach a note to the active session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			text := strings.TrimSpace(strings.Join(args, " "))
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Note(text)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Note recorded (%s)\n", resp.RecordID)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionList()
				if err != nil {
					return err
				}
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(stdout, "No sessions recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Sessions))
				for _, s := range resp.Sessions {
					ended := "-"
					if s.EndedAt != nil {
						ended = s.EndedAt.Local().Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{
						s.ID,
						s.Status,
						s.TriggerMethod,
						s.StartedAt.Local().Format("2006-01-02 15:04:05"),
						ended,
						fmt.Sprintf("%d", s.EvidenceTotal),
						yesNo(s.EmergencyContacted),
					})
				}
				headers := []string{"ID", "Status", "Trigger", "Started", "Ended", "Evidence", "Emergency"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
				fmt.Fprintln(stdout, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	sessionCmd.AddCommand(startCmd, stopCmd, escalateCmd, noteCmd, listCmd)
	return sessionCmd
}
