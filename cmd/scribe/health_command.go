package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon, store, and downstream service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.StatusResponse
			if err := ctx.getJSON("/api/status?probe=1", &status); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			daemonKind := statusError
			if status.Running {
				daemonKind = statusOK
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, fmt.Sprintf("%d active jobs", status.ActiveJobs), colorize))

			storeKind := statusOK
			storeMsg := ""
			if !status.StoreOK {
				storeKind = statusError
				storeMsg = status.StoreError
			}
			fmt.Fprintln(out, renderStatusLine("Store", storeKind, storeMsg, colorize))

			for _, svc := range status.Services {
				kind := statusOK
				if svc.Circuit != "closed" {
					kind = statusWarn
				}
				if svc.Probed && !svc.Healthy {
					kind = statusError
				}
				detail := fmt.Sprintf("circuit %s", displayLabel(svc.Circuit))
				if svc.Failures > 0 {
					detail = fmt.Sprintf("%s, %d consecutive failures", detail, svc.Failures)
				}
				if svc.Probed && !svc.Healthy && svc.Detail != "" {
					detail = fmt.Sprintf("%s: %s", detail, svc.Detail)
				}
				fmt.Fprintln(out, renderStatusLine(displayLabel(svc.Name), kind, detail, colorize))
			}

			if len(status.JobStats) > 0 {
				statuses := make([]string, 0, len(status.JobStats))
				for name := range status.JobStats {
					statuses = append(statuses, name)
				}
				sort.Strings(statuses)
				rows := make([][]string, 0, len(statuses))
				for _, name := range statuses {
					rows = append(rows, []string{displayLabel(name), fmt.Sprintf("%d", status.JobStats[name])})
				}
				fmt.Fprintln(out, renderTable(jobStatsColumns, rows))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}
