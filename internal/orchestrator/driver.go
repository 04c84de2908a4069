package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/notify"
	"scribe/internal/pipeline"
	"scribe/internal/remote"
	"scribe/internal/services"
)

const (
	saveAttempts     = 3
	saveRetryBackoff = 500 * time.Millisecond
)

// drive runs one job from its current state to a terminal status. Every
// transition is persisted before the next step begins, so a restart can pick
// up exactly where the previous process stopped.
func (r *Runner) drive(ctx context.Context, job pipeline.Job) {
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, r.logger)

	// The caller's copy may be stale: a cancel can land between job creation
	// and launch, and would be overwritten if the driver trusted its
	// argument. The stored record is authoritative.
	stored, err := r.store.Get(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		r.abandon(&job, err, logger)
		return
	}
	job = stored
	if job.Status.IsTerminal() {
		logger.Info("skipping driver for terminal job",
			logging.String("status", string(job.Status)),
		)
		return
	}

	start := r.now()

	for idx := 0; idx < len(job.Stages); idx++ {
		stage := job.Stages[idx]
		if stage.Status == pipeline.StageCompleted {
			continue
		}
		if ctx.Err() != nil {
			r.markCancelled(&job, logger)
			return
		}

		stageCtx := services.WithStage(ctx, string(stage.Name))
		stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
		stageLogger := logging.WithContext(stageCtx, r.logger)
		client, ok := r.clients[stage.Name]
		if !ok {
			r.failStage(stageCtx, &job, idx, fmt.Sprintf("no client configured for stage %s", stage.Name), false, stageLogger)
			return
		}

		resuming := stage.Status == pipeline.StageProcessing && stage.RemoteJobID != ""
		if !resuming {
			if !r.beginStage(stageCtx, &job, idx, stageLogger) {
				return
			}
			remoteID, err := client.Submit(stageCtx, remote.SubmitRequest{
				JobID:   job.ID,
				Input:   r.stageInput(job, idx),
				Options: job.Options,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					r.markCancelled(&job, logger)
					return
				}
				r.failStage(stageCtx, &job, idx, err.Error(), services.IsRetryable(err), stageLogger)
				return
			}
			job.SetStageRemote(idx, remoteID, r.now())
			if err := r.saveJob(stageCtx, &job); err != nil {
				r.abandon(&job, err, stageLogger)
				return
			}
			stageLogger.Info("stage submitted",
				logging.String(logging.FieldEventType, "stage_submitted"),
				logging.String("remote_job_id", remoteID),
			)
		} else {
			stageLogger.Info("resuming stage poll",
				logging.String("remote_job_id", stage.RemoteJobID),
			)
		}

		result, ok := r.pollStage(stageCtx, &job, idx, client, stageLogger)
		if !ok {
			return
		}

		next, err := pipeline.Advance(job, result, r.now())
		if err != nil {
			r.abandon(&job, err, stageLogger)
			return
		}
		job = next
		if err := r.saveJob(stageCtx, &job); err != nil {
			r.abandon(&job, err, stageLogger)
			return
		}

		if job.Status == pipeline.StatusFailed {
			stageLogger.Warn("stage failed",
				logging.String(logging.FieldEventType, "stage_failed"),
				logging.String("message", job.Error.Message),
				logging.Bool("retryable", job.Error.Retryable),
			)
			r.publish(context.WithoutCancel(ctx), notify.EventJobFailed, job, job.Error.Message)
			return
		}
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_completed"),
			logging.String("output", job.Stages[idx].Output),
		)
		r.publish(ctx, notify.EventJobStage, job, string(stage.Name)+" completed")
	}

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("result", job.Result),
		logging.Duration("job_duration", r.now().Sub(start)),
	)
	r.publish(ctx, notify.EventJobCompleted, job, "")
}

// stageInput is the input reference handed to the stage at idx: the original
// input for the first stage, the previous stage's output otherwise.
func (r *Runner) stageInput(job pipeline.Job, idx int) string {
	if idx == 0 {
		return job.InputRef
	}
	return job.Stages[idx-1].Output
}

func (r *Runner) beginStage(ctx context.Context, job *pipeline.Job, idx int, logger *slog.Logger) bool {
	if err := job.BeginStage(idx, r.now()); err != nil {
		r.abandon(job, err, logger)
		return false
	}
	if err := r.saveJob(ctx, job); err != nil {
		r.abandon(job, err, logger)
		return false
	}
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_started"))
	return true
}

// pollStage waits on the downstream service until the stage reaches a
// terminal remote status. It returns false when the driver should stop
// without advancing (cancellation or an unrecoverable store error).
func (r *Runner) pollStage(ctx context.Context, job *pipeline.Job, idx int, client remote.StageClient, logger *slog.Logger) (pipeline.StageResult, bool) {
	stageName := job.Stages[idx].Name
	remoteID := job.Stages[idx].RemoteJobID

	for attempt := 1; ; attempt++ {
		if attempt > r.polling.maxAttempts {
			r.failStage(ctx, job, idx, fmt.Sprintf("stage did not finish within %d poll attempts", r.polling.maxAttempts), true, logger)
			return pipeline.StageResult{}, false
		}
		if err := r.sleeper.Sleep(ctx, r.polling.intervalFor(attempt)); err != nil {
			r.markCancelled(job, logger)
			return pipeline.StageResult{}, false
		}
		if ctx.Err() != nil {
			r.markCancelled(job, logger)
			return pipeline.StageResult{}, false
		}

		res, err := client.Poll(ctx, remoteID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.markCancelled(job, logger)
				return pipeline.StageResult{}, false
			}
			r.failStage(ctx, job, idx, err.Error(), services.IsRetryable(err), logger)
			return pipeline.StageResult{}, false
		}

		if !res.Terminal() {
			if res.Progress > job.Stages[idx].Progress {
				job.SetStageProgress(idx, res.Progress, r.now())
				if err := r.saveJob(ctx, job); err != nil {
					r.abandon(job, err, logger)
					return pipeline.StageResult{}, false
				}
			}
			continue
		}

		result := pipeline.StageResult{Stage: stageName}
		if res.Status == remote.RemoteCompleted {
			result.Outcome = pipeline.OutcomeSuccess
			result.Output = res.Output
		} else {
			result.Outcome = pipeline.OutcomeFailure
			result.Message = res.Error
			if result.Message == "" {
				result.Message = "stage reported failure without detail"
			}
			result.Retryable = true
		}
		return result, true
	}
}

// failStage records a stage failure through Advance and publishes the failure
// event. Used for submit errors, poll errors, and poll attempt exhaustion.
func (r *Runner) failStage(ctx context.Context, job *pipeline.Job, idx int, message string, retryable bool, logger *slog.Logger) {
	if job.Stages[idx].Status != pipeline.StageProcessing {
		if err := job.BeginStage(idx, r.now()); err != nil {
			r.abandon(job, err, logger)
			return
		}
	}
	next, err := pipeline.Advance(*job, pipeline.StageResult{
		Stage:     job.Stages[idx].Name,
		Outcome:   pipeline.OutcomeFailure,
		Message:   message,
		Retryable: retryable,
	}, r.now())
	if err != nil {
		r.abandon(job, err, logger)
		return
	}
	*job = next
	if err := r.saveJob(ctx, job); err != nil {
		r.abandon(job, err, logger)
		return
	}
	logger.Warn("stage failed",
		logging.String(logging.FieldEventType, "stage_failed"),
		logging.String("message", message),
		logging.Bool("retryable", retryable),
	)
	r.publish(context.WithoutCancel(ctx), notify.EventJobFailed, *job, message)
}

// markCancelled persists the cancelled state after the driver observes its
// context was cancelled. Runner shutdown leaves the job untouched so a later
// resume can continue it; only an explicit cancel marks the record.
func (r *Runner) markCancelled(job *pipeline.Job, logger *slog.Logger) {
	r.mu.Lock()
	shuttingDown := !r.running
	r.mu.Unlock()
	if shuttingDown {
		logger.Debug("driver interrupted by shutdown")
		return
	}

	job.Cancel(r.now())
	ctx := context.Background()
	if err := r.saveJob(ctx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
		return
	}
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	r.publish(ctx, notify.EventJobCancelled, *job, pipeline.CancelledReason)
}

// saveJob writes the job with a short retry so a transient store hiccup does
// not kill the driver.
func (r *Runner) saveJob(ctx context.Context, job *pipeline.Job) error {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleeper.Sleep(ctx, saveRetryBackoff); err != nil {
				return err
			}
		}
		lastErr = r.store.Save(context.WithoutCancel(ctx), *job)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, services.ErrUnavailable) {
			return lastErr
		}
	}
	return lastErr
}

// abandon logs an unrecoverable driver error and exits without rewriting the
// job so the stored record keeps its last consistent state.
func (r *Runner) abandon(job *pipeline.Job, err error, logger *slog.Logger) {
	logger.Error("abandoning job driver",
		logging.String(logging.FieldJobID, job.ID),
		logging.Error(err),
	)
}
