package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var options []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <input-ref>",
		Short: "Submit a media reference for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.SubmitRequest{InputRef: strings.TrimSpace(args[0])}
			for _, opt := range options {
				key, value, found := strings.Cut(opt, "=")
				if !found || strings.TrimSpace(key) == "" {
					return fmt.Errorf("invalid option %q, expected key=value", opt)
				}
				if req.Options == nil {
					req.Options = make(map[string]string)
				}
				req.Options[strings.TrimSpace(key)] = value
			}

			var resp api.SubmitResponse
			if err := ctx.postJSON("/api/jobs", req, &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s accepted (%s)\n", resp.JobID, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "Stage option as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the full status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.JobView
			if err := ctx.getJSON("/api/jobs/"+url.PathEscape(args[0]), &view); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			printJobView(cmd, view)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}

func printJobView(cmd *cobra.Command, view api.JobView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderStatusLine("Job", statusInfo, view.JobID, colorize))
	fmt.Fprintln(out, renderStatusLine("Input", statusInfo, view.InputRef, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", statusKindForJob(view.Status), displayLabel(view.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.1f%%", view.OverallProgress), colorize))
	if view.Result != "" {
		fmt.Fprintln(out, renderStatusLine("Result", statusOK, view.Result, colorize))
	}
	if view.Error != nil {
		detail := fmt.Sprintf("%s: %s", displayLabel(view.Error.Stage), view.Error.Message)
		fmt.Fprintln(out, renderStatusLine("Error", statusError, detail, colorize))
	}

	rows := make([][]string, 0, len(view.Stages))
	for _, stage := range view.Stages {
		rows = append(rows, []string{
			displayLabel(stage.Name),
			displayLabel(stage.Status),
			fmt.Sprintf("%.0f%%", stage.Progress),
			stage.Output,
			stage.Error,
		})
	}
	fmt.Fprintln(out, renderTable(stageColumns, rows))
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, status := range statuses {
				query.Add("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/jobs"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}

			var resp api.JobListResponse
			if err := ctx.getJSON(path, &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					job.JobID,
					job.InputRef,
					displayLabel(job.Status),
					fmt.Sprintf("%.0f%%", job.Progress),
					job.ReceivedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(jobListColumns, rows))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.JobView
			if err := ctx.postJSON("/api/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &view); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s (%s)\n", view.JobID, displayLabel(view.Status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}
