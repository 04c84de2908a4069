package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/internal/notify"
	"scribe/internal/orchestrator"
	"scribe/internal/pipeline"
	"scribe/internal/store"
)

// ErrValidation marks submission requests rejected before a job was created.
var ErrValidation = errors.New("invalid submission")

// JobService exposes job submission and query operations returning API DTOs.
type JobService struct {
	store    store.JobStore
	runner   *orchestrator.Runner
	notifier notify.Service
	now      func() time.Time
}

// NewJobService constructs a JobService around the store and runner.
func NewJobService(js store.JobStore, runner *orchestrator.Runner, notifier notify.Service) *JobService {
	return &JobService{
		store:    js,
		runner:   runner,
		notifier: notifier,
		now:      time.Now,
	}
}

// Submit validates the request, persists a queued job, and hands it to the
// runner. The response returns immediately; processing happens in the
// background.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	inputRef := strings.TrimSpace(req.InputRef)
	if inputRef == "" {
		return SubmitResponse{}, fmt.Errorf("%w: input_ref is required", ErrValidation)
	}

	job := pipeline.NewJob(uuid.NewString(), inputRef, req.Options, s.now())
	if err := s.store.Create(ctx, job); err != nil {
		return SubmitResponse{}, err
	}
	if s.notifier != nil {
		_ = s.notifier.Publish(ctx, notify.EventJobQueued, job, "")
	}
	if err := s.runner.Launch(job); err != nil {
		return SubmitResponse{}, err
	}
	return SubmitResponse{JobID: job.ID, Status: string(job.Status)}, nil
}

// Status fetches a single job. Missing ids surface services.ErrNotFound and
// an unreachable store surfaces services.ErrUnavailable; callers map those to
// distinct responses.
func (s *JobService) Status(ctx context.Context, id string) (JobView, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job), nil
}

// List returns job summaries, optionally filtered by status.
func (s *JobService) List(ctx context.Context, limit int, statuses ...pipeline.Status) (JobListResponse, error) {
	summaries, err := s.store.List(ctx, limit, statuses...)
	if err != nil {
		return JobListResponse{}, err
	}
	return JobListResponse{Jobs: FromJobSummaries(summaries)}, nil
}

// Cancel requests cancellation of a job and returns its current view.
func (s *JobService) Cancel(ctx context.Context, id string) (JobView, error) {
	job, err := s.runner.Cancel(ctx, id)
	if err != nil && !errors.Is(err, orchestrator.ErrAlreadyTerminal) {
		return JobView{}, err
	}
	return FromJob(job), err
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}
