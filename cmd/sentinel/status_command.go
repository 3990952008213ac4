package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sentinel/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session, and upload queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			client, err := ctx.dialClient()
			if err != nil {
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "not running", colorize))
				fmt.Fprintln(stdout, renderStatusLine("Hint", statusInfo, "start it with `sentinel start`", colorize))
				return nil
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return err
			}

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
			uploadKind := statusOK
			uploadMessage := "enabled"
			if !status.UploadEnabled {
				uploadKind = statusWarn
				uploadMessage = "disabled"
			}
			fmt.Fprintln(stdout, renderStatusLine("Uploads", uploadKind, uploadMessage, colorize))
			storageKind := statusOK
			if status.StorageLow {
				storageKind = statusWarn
			}
			fmt.Fprintln(stdout, renderStatusLine("Storage free", storageKind, formatBytes(status.StorageFree), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Evidence DB", statusInfo, status.EvidenceDBPath, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Session", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range sessionStatusLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Upload Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := queueStatusRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func sessionStatusLines(status *ipc.StatusResponse, colorize bool) []string {
	switch status.State {
	case "emergency":
		lines := []string{
			renderStatusLine("State", statusError, "EMERGENCY", colorize),
			renderStatusLine("Session", statusInfo, status.SessionID, colorize),
		}
		if status.StartedAt != nil {
			lines = append(lines, renderStatusLine("Started", statusInfo, formatSince(*status.StartedAt), colorize))
		}
		return lines
	case "monitoring":
		lines := []string{
			renderStatusLine("State", statusOK, "monitoring", colorize),
			renderStatusLine("Session", statusInfo, status.SessionID, colorize),
		}
		if status.StartedAt != nil {
			lines = append(lines, renderStatusLine("Started", statusInfo, formatSince(*status.StartedAt), colorize))
		}
		return lines
	default:
		return []string{renderStatusLine("State", statusInfo, "idle", colorize)}
	}
}

func queueStatusRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for key, count := range stats {
		if count == 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(stats[key])})
	}
	return rows
}

func formatSince(started time.Time) string {
	elapsed := time.Since(started).Round(time.Second)
	return fmt.Sprintf("%s (%s ago)", started.Local().Format("2006-01-02 15:04:05"), elapsed)
}

func formatBytes(size uint64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := uint64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
