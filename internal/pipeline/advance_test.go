package pipeline_test

import (
	"reflect"
	"testing"
	"time"

	"scribe/internal/pipeline"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newRunningJob(t *testing.T) pipeline.Job {
	t.Helper()
	job := pipeline.NewJob("job-1", "https://example/video1", nil, testNow)
	if err := job.BeginStage(0, testNow); err != nil {
		t.Fatalf("BeginStage: %v", err)
	}
	return job
}

func TestNewJobShape(t *testing.T) {
	job := pipeline.NewJob("job-1", "https://example/video1", map[string]string{"language": "en"}, testNow)
	if job.Status != pipeline.StatusQueued {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if len(job.Stages) != pipeline.StageCount {
		t.Fatalf("expected %d stages, got %d", pipeline.StageCount, len(job.Stages))
	}
	wantOrder := []pipeline.StageName{pipeline.StageFetch, pipeline.StageNormalize, pipeline.StageTranscribe}
	for i, name := range wantOrder {
		if job.Stages[i].Name != name {
			t.Fatalf("stage %d: got %s want %s", i, job.Stages[i].Name, name)
		}
		if job.Stages[i].Status != pipeline.StagePending {
			t.Fatalf("stage %s not pending: %s", name, job.Stages[i].Status)
		}
	}
	if job.OverallProgress() != 0 {
		t.Fatalf("unexpected progress: %f", job.OverallProgress())
	}
}

func TestAdvanceSuccessMovesToNextStage(t *testing.T) {
	job := newRunningJob(t)

	next, err := pipeline.Advance(job, pipeline.StageResult{
		Stage:   pipeline.StageFetch,
		Outcome: pipeline.OutcomeSuccess,
		Output:  "raw1",
	}, testNow)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.Status != pipeline.StatusRunningNormalize {
		t.Fatalf("unexpected status: %s", next.Status)
	}
	if next.Stages[0].Status != pipeline.StageCompleted || next.Stages[0].Output != "raw1" {
		t.Fatalf("unexpected fetch stage: %+v", next.Stages[0])
	}
	if next.Stages[1].Status != pipeline.StagePending {
		t.Fatalf("normalize should stay pending until submitted: %s", next.Stages[1].Status)
	}
	if next.Stages[2].Status != pipeline.StagePending {
		t.Fatalf("no skip-ahead: %s", next.Stages[2].Status)
	}
}

func TestAdvanceFinalStageCompletesJob(t *testing.T) {
	job := pipeline.NewJob("job-1", "in", nil, testNow)
	for i, output := range []string{"raw1", "norm1"} {
		if err := job.BeginStage(i, testNow); err != nil {
			t.Fatalf("BeginStage(%d): %v", i, err)
		}
		var err error
		job, err = pipeline.Advance(job, pipeline.StageResult{
			Stage:   job.Stages[i].Name,
			Outcome: pipeline.OutcomeSuccess,
			Output:  output,
		}, testNow)
		if err != nil {
			t.Fatalf("Advance(%d): %v", i, err)
		}
	}
	if err := job.BeginStage(2, testNow); err != nil {
		t.Fatalf("BeginStage(2): %v", err)
	}
	final, err := pipeline.Advance(job, pipeline.StageResult{
		Stage:   pipeline.StageTranscribe,
		Outcome: pipeline.OutcomeSuccess,
		Output:  `{"text":"hello"}`,
	}, testNow)
	if err != nil {
		t.Fatalf("Advance final: %v", err)
	}
	if final.Status != pipeline.StatusCompleted {
		t.Fatalf("unexpected status: %s", final.Status)
	}
	if final.Result != `{"text":"hello"}` {
		t.Fatalf("unexpected result: %q", final.Result)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completed_at")
	}
	if final.OverallProgress() != 100 {
		t.Fatalf("unexpected progress: %f", final.OverallProgress())
	}
}

func TestAdvanceFailureIsTerminal(t *testing.T) {
	job := newRunningJob(t)
	failed, err := pipeline.Advance(job, pipeline.StageResult{
		Stage:     pipeline.StageFetch,
		Outcome:   pipeline.OutcomeFailure,
		Message:   "disk full",
		Retryable: false,
	}, testNow)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if failed.Status != pipeline.StatusFailed {
		t.Fatalf("unexpected status: %s", failed.Status)
	}
	if failed.Error == nil || failed.Error.Stage != pipeline.StageFetch || failed.Error.Message != "disk full" {
		t.Fatalf("unexpected error: %+v", failed.Error)
	}
	if failed.CompletedAt == nil {
		t.Fatal("expected completed_at on failure")
	}
	if _, err := pipeline.Advance(failed, pipeline.StageResult{Stage: pipeline.StageFetch, Outcome: pipeline.OutcomeSuccess, Output: "x"}, testNow); err == nil {
		t.Fatal("expected error advancing a terminal job")
	}
}

func TestAdvanceMalformedSuccessBecomesFailure(t *testing.T) {
	job := newRunningJob(t)
	next, err := pipeline.Advance(job, pipeline.StageResult{
		Stage:   pipeline.StageFetch,
		Outcome: pipeline.OutcomeSuccess,
		Output:  "   ",
	}, testNow)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.Status != pipeline.StatusFailed {
		t.Fatalf("empty output should fail the stage, got %s", next.Status)
	}
	if next.Error == nil || next.Error.Retryable {
		t.Fatalf("malformed success must be non-retryable: %+v", next.Error)
	}
}

func TestAdvanceRejectsWrongStage(t *testing.T) {
	job := newRunningJob(t)
	if _, err := pipeline.Advance(job, pipeline.StageResult{
		Stage:   pipeline.StageNormalize,
		Outcome: pipeline.OutcomeSuccess,
		Output:  "norm1",
	}, testNow); err == nil {
		t.Fatal("expected error for out-of-order stage result")
	}
}

func TestAdvanceIsPure(t *testing.T) {
	job := newRunningJob(t)
	result := pipeline.StageResult{Stage: pipeline.StageFetch, Outcome: pipeline.OutcomeSuccess, Output: "raw1"}

	first, err := pipeline.Advance(job, result, testNow)
	if err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	second, err := pipeline.Advance(job, result, testNow)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("Advance is not idempotent for identical inputs")
	}
	if job.Status != pipeline.StatusRunningFetch || job.Stages[0].Status != pipeline.StageProcessing {
		t.Fatal("Advance mutated its input")
	}
}

func TestOverallProgressAggregation(t *testing.T) {
	job := newRunningJob(t)
	job.SetStageProgress(0, 60, testNow)
	if got := job.OverallProgress(); got != 20 {
		t.Fatalf("expected 20, got %f", got)
	}

	next, err := pipeline.Advance(job, pipeline.StageResult{Stage: pipeline.StageFetch, Outcome: pipeline.OutcomeSuccess, Output: "raw1"}, testNow)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := next.BeginStage(1, testNow); err != nil {
		t.Fatalf("BeginStage: %v", err)
	}
	next.SetStageProgress(1, 30, testNow)
	if got := next.OverallProgress(); got != 130.0/3 {
		t.Fatalf("expected %f, got %f", 130.0/3, got)
	}
}

func TestSetStageProgressIsMonotonic(t *testing.T) {
	job := newRunningJob(t)
	job.SetStageProgress(0, 50, testNow)
	job.SetStageProgress(0, 10, testNow)
	if job.Stages[0].Progress != 50 {
		t.Fatalf("progress regressed: %f", job.Stages[0].Progress)
	}
	job.SetStageProgress(0, 150, testNow)
	if job.Stages[0].Progress != 100 {
		t.Fatalf("progress not capped: %f", job.Stages[0].Progress)
	}
}

func TestCancelSkipsProcessingStage(t *testing.T) {
	job := newRunningJob(t)
	job.Cancel(testNow)
	if job.Status != pipeline.StatusCancelled {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.Stages[0].Status != pipeline.StageSkipped {
		t.Fatalf("processing stage should be skipped: %s", job.Stages[0].Status)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at on cancel")
	}

	before := job.Clone()
	job.Cancel(testNow.Add(time.Hour))
	if !reflect.DeepEqual(before, job) {
		t.Fatal("cancelling a terminal job must be a no-op")
	}
}
