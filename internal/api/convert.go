package api

import (
	"time"

	"scribe/internal/pipeline"
	"scribe/internal/store"
)

// FromJob converts a stored job to its API representation.
func FromJob(job pipeline.Job) JobView {
	view := JobView{
		JobID:           job.ID,
		InputRef:        job.InputRef,
		Options:         job.Options,
		Status:          string(job.Status),
		OverallProgress: job.OverallProgress(),
		Result:          job.Result,
		ReceivedAt:      formatTime(job.ReceivedAt),
		StartedAt:       formatTimePtr(job.StartedAt),
		CompletedAt:     formatTimePtr(job.CompletedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if job.Error != nil {
		view.Error = &JobErrorView{
			Stage:     string(job.Error.Stage),
			Message:   job.Error.Message,
			Retryable: job.Error.Retryable,
		}
	}
	view.Stages = make([]StageView, 0, len(job.Stages))
	for _, stage := range job.Stages {
		view.Stages = append(view.Stages, StageView{
			Name:        string(stage.Name),
			Status:      string(stage.Status),
			RemoteJobID: stage.RemoteJobID,
			Progress:    stage.Progress,
			Output:      stage.Output,
			Error:       stage.Error,
			StartedAt:   formatTimePtr(stage.StartedAt),
			CompletedAt: formatTimePtr(stage.CompletedAt),
		})
	}
	return view
}

// FromJobSummary converts a listing row to its API representation.
func FromJobSummary(summary store.JobSummary) JobSummaryView {
	return JobSummaryView{
		JobID:      summary.ID,
		InputRef:   summary.InputRef,
		Status:     string(summary.Status),
		Progress:   summary.Progress,
		ReceivedAt: formatTime(summary.ReceivedAt),
		UpdatedAt:  formatTime(summary.UpdatedAt),
	}
}

// FromJobSummaries converts a slice of listing rows into API DTOs.
func FromJobSummaries(summaries []store.JobSummary) []JobSummaryView {
	out := make([]JobSummaryView, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, FromJobSummary(summary))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
