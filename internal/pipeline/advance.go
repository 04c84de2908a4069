package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// StageOutcome is the terminal result a downstream service reported for a stage.
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "success"
	OutcomeFailure StageOutcome = "failure"
)

// StageResult is the outcome of a just-finished stage, fed to Advance.
type StageResult struct {
	Stage     StageName
	Outcome   StageOutcome
	Output    string
	Message   string
	Retryable bool
}

// Advance applies the outcome of a finished stage and returns the next job
// value. It is a pure function: the input job is not mutated, no I/O happens,
// and the same inputs always produce the same output. A success result with an
// empty output reference is treated as a failure of that stage.
func Advance(job Job, result StageResult, now time.Time) (Job, error) {
	now = now.UTC()
	next := job.Clone()

	if job.Status.IsTerminal() {
		return job, fmt.Errorf("advance: job %s already terminal (%s)", job.ID, job.Status)
	}
	want := RunningStatus(result.Stage)
	if want == "" {
		return job, fmt.Errorf("advance: unknown stage %q", result.Stage)
	}
	if job.Status != want {
		return job, fmt.Errorf("advance: job %s is %s, expected %s for stage %s", job.ID, job.Status, want, result.Stage)
	}
	idx := next.StageIndex(result.Stage)
	if idx < 0 {
		return job, fmt.Errorf("advance: job %s has no stage %q", job.ID, result.Stage)
	}

	outcome := result
	if outcome.Outcome == OutcomeSuccess && strings.TrimSpace(outcome.Output) == "" {
		// Malformed success is a failure, never passed downstream.
		outcome.Outcome = OutcomeFailure
		outcome.Message = "stage reported success without an output reference"
		outcome.Retryable = false
	}

	stage := &next.Stages[idx]
	stage.CompletedAt = &now
	next.UpdatedAt = now

	switch outcome.Outcome {
	case OutcomeSuccess:
		stage.Status = StageCompleted
		stage.Progress = 100
		stage.Output = outcome.Output
		stage.Error = ""
		if idx == len(next.Stages)-1 {
			next.Status = StatusCompleted
			next.Result = outcome.Output
			next.CompletedAt = &now
		} else {
			next.Status = RunningStatus(next.Stages[idx+1].Name)
		}
	case OutcomeFailure:
		stage.Status = StageFailed
		stage.Error = outcome.Message
		next.Status = StatusFailed
		next.Error = &JobError{
			Stage:     result.Stage,
			Message:   outcome.Message,
			Retryable: outcome.Retryable,
		}
		next.CompletedAt = &now
	default:
		return job, fmt.Errorf("advance: unknown outcome %q", outcome.Outcome)
	}

	return next, nil
}

// BeginStage marks the stage at idx as processing and moves the job into the
// matching running status. Called by the orchestrator before submitting work.
func (j *Job) BeginStage(idx int, now time.Time) error {
	if idx < 0 || idx >= len(j.Stages) {
		return fmt.Errorf("begin stage: index %d out of range", idx)
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("begin stage: job %s already terminal (%s)", j.ID, j.Status)
	}
	now = now.UTC()
	stage := &j.Stages[idx]
	stage.Status = StageProcessing
	stage.Progress = 0
	stage.StartedAt = &now
	j.Status = RunningStatus(stage.Name)
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now
	return nil
}

// SetStageRemote records the downstream job identifier after submit succeeds.
func (j *Job) SetStageRemote(idx int, remoteID string, now time.Time) {
	if idx < 0 || idx >= len(j.Stages) {
		return
	}
	j.Stages[idx].RemoteJobID = remoteID
	j.UpdatedAt = now.UTC()
}

// SetStageProgress records poll progress. Progress never decreases while a
// stage is processing.
func (j *Job) SetStageProgress(idx int, progress float64, now time.Time) {
	if idx < 0 || idx >= len(j.Stages) {
		return
	}
	stage := &j.Stages[idx]
	if progress > 100 {
		progress = 100
	}
	if progress > stage.Progress {
		stage.Progress = progress
	}
	j.UpdatedAt = now.UTC()
}

// Cancel marks the job cancelled. In-flight remote work is not awaited.
func (j *Job) Cancel(now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	now = now.UTC()
	for i := range j.Stages {
		if j.Stages[i].Status == StageProcessing {
			j.Stages[i].Status = StageSkipped
		}
	}
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
}
