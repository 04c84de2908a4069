package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/notify"
	"scribe/internal/orchestrator"
	"scribe/internal/pipeline"
	"scribe/internal/remote"
	"scribe/internal/services"
	"scribe/internal/store"
	"scribe/internal/testsupport"
)

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// delaySleeper waits a fixed short duration so a driver stays in its poll
// loop long enough for a test to interact with it.
type delaySleeper struct {
	d time.Duration
}

func (s delaySleeper) Sleep(ctx context.Context, _ time.Duration) error {
	timer := time.NewTimer(s.d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type fakeClient struct {
	name     string
	submitID string
	submitErr error

	mu          sync.Mutex
	polls       []remote.PollResult
	pollErr     error
	submitCalls int
	pollCalls   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Submit(_ context.Context, _ remote.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.submitID == "" {
		return "remote-" + f.name, nil
	}
	return f.submitID, nil
}

// Poll returns the scripted results in order, repeating the last one.
func (f *fakeClient) Poll(_ context.Context, _ string) (remote.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.pollErr != nil {
		return remote.PollResult{}, f.pollErr
	}
	if len(f.polls) == 0 {
		return remote.PollResult{Status: remote.RemoteProcessing}, nil
	}
	res := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return res, nil
}

func (f *fakeClient) Health(context.Context) error { return nil }

func completes(output string) []remote.PollResult {
	return []remote.PollResult{
		{Status: remote.RemoteProcessing, Progress: 50},
		{Status: remote.RemoteCompleted, Progress: 100, Output: output},
	}
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturingNotifier) Publish(_ context.Context, event notify.Event, _ pipeline.Job, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingNotifier) Close() {}

func (c *capturingNotifier) seen(event notify.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestRunner(t *testing.T, clients orchestrator.Clients, opts ...testsupport.ConfigOption) (*orchestrator.Runner, store.JobStore, *capturingNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	js := testsupport.MustOpenStore(t, cfg)
	notifier := &capturingNotifier{}
	runner := orchestrator.NewRunner(cfg, js, clients, notifier, nil, orchestrator.WithSleeper(instantSleeper{}))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(runner.Stop)
	return runner, js, notifier
}

func waitForTerminal(t *testing.T, js store.JobStore, id string) pipeline.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := js.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return pipeline.Job{}
}

func TestDriverRunsAllStagesToCompletion(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")},
		pipeline.StageNormalize:  &fakeClient{name: "normalize", polls: completes("/tmp/norm.wav")},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe", polls: completes(`{"text":"hello"}`)},
	}
	runner, js, notifier := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "https://example.com/audio.mp4")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.Error)
	}
	if final.Result != `{"text":"hello"}` {
		t.Fatalf("unexpected result %q", final.Result)
	}
	if got := final.OverallProgress(); got != 100 {
		t.Fatalf("expected 100 progress, got %v", got)
	}
	for _, stage := range final.Stages {
		if stage.Status != pipeline.StageCompleted {
			t.Fatalf("stage %s not completed: %s", stage.Name, stage.Status)
		}
	}
	if !notifier.seen(notify.EventJobCompleted) {
		t.Fatal("completed event not published")
	}
}

func TestDriverChainsStageOutputs(t *testing.T) {
	var normalizeInput string
	fetch := &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")}
	normalize := &fakeClient{name: "normalize", polls: completes("/tmp/norm.wav")}
	transcribe := &fakeClient{name: "transcribe", polls: completes("done")}

	clients := orchestrator.Clients{
		pipeline.StageFetch:      fetch,
		pipeline.StageNormalize:  &inputRecorder{fakeClient: normalize, record: &normalizeInput},
		pipeline.StageTranscribe: transcribe,
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "https://example.com/audio.mp4")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitForTerminal(t, js, job.ID)

	if normalizeInput != "/tmp/raw.mp4" {
		t.Fatalf("normalize received %q, want the fetch output", normalizeInput)
	}
}

type inputRecorder struct {
	*fakeClient
	record *string
}

func (r *inputRecorder) Submit(ctx context.Context, req remote.SubmitRequest) (string, error) {
	*r.record = req.Input
	return r.fakeClient.Submit(ctx, req)
}

func TestStageFailureStopsPipeline(t *testing.T) {
	transcribe := &fakeClient{name: "transcribe", polls: completes("unused")}
	clients := orchestrator.Clients{
		pipeline.StageFetch:     &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")},
		pipeline.StageNormalize: &fakeClient{name: "normalize", polls: []remote.PollResult{{Status: remote.RemoteFailed, Error: "unsupported codec"}}},
		pipeline.StageTranscribe: transcribe,
	}
	runner, js, notifier := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Stage != pipeline.StageNormalize {
		t.Fatalf("unexpected job error: %+v", final.Error)
	}
	if final.Error.Message != "unsupported codec" {
		t.Fatalf("unexpected message %q", final.Error.Message)
	}
	if final.Stages[2].Status != pipeline.StagePending {
		t.Fatalf("transcribe stage should stay pending, got %s", final.Stages[2].Status)
	}
	transcribe.mu.Lock()
	calls := transcribe.submitCalls
	transcribe.mu.Unlock()
	if calls != 0 {
		t.Fatalf("transcribe submitted %d times after upstream failure", calls)
	}
	if !notifier.seen(notify.EventJobFailed) {
		t.Fatal("failed event not published")
	}
}

func TestSuccessWithoutOutputFailsStage(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", polls: []remote.PollResult{{Status: remote.RemoteCompleted, Output: ""}}},
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Retryable {
		t.Fatalf("malformed success must be non-retryable: %+v", final.Error)
	}
}

func TestSubmitErrorFailsStageWithRetryability(t *testing.T) {
	submitErr := services.Wrap(services.ErrInvalidRequest, "fetch", "submit", "bad input", nil)
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", submitErr: submitErr},
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Retryable {
		t.Fatalf("invalid request must be non-retryable: %+v", final.Error)
	}
}

func TestPollBudgetExhaustionFailsJob(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch"},
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	runner, js, _ := newTestRunner(t, clients, func(cfg *config.Config) {
		cfg.Polling.MaxAttempts = 3
	})

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || !final.Error.Retryable {
		t.Fatalf("poll exhaustion should be retryable: %+v", final.Error)
	}
}

func TestCancelActiveJobObservedAtPollBoundary(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch"},
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	cfg := testsupport.NewConfig(t, func(cfg *config.Config) {
		cfg.Polling.MaxAttempts = 1_000_000
	})
	js := testsupport.MustOpenStore(t, cfg)
	notifier := &capturingNotifier{}
	runner := orchestrator.NewRunner(cfg, js, clients, notifier, nil,
		orchestrator.WithSleeper(delaySleeper{time.Millisecond}))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(runner.Stop)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := js.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if current.Status == pipeline.StatusRunningFetch {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := runner.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.Stages[0].Status != pipeline.StageSkipped {
		t.Fatalf("processing stage should be skipped, got %s", final.Stages[0].Status)
	}
	if !notifier.seen(notify.EventJobCancelled) {
		t.Fatal("cancelled event not published")
	}
}

func TestLaunchWithStaleJobDoesNotResurrectTerminalRecord(t *testing.T) {
	fetch := &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")}
	clients := orchestrator.Clients{
		pipeline.StageFetch:      fetch,
		pipeline.StageNormalize:  &fakeClient{name: "normalize", polls: completes("/tmp/norm.wav")},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe", polls: completes("text")},
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")

	// The cancel lands before the caller's queued copy reaches Launch, so the
	// launched value is stale. The driver must defer to the stored record.
	if _, err := runner.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && runner.ActiveCount() > 0 {
		time.Sleep(5 * time.Millisecond)
	}

	final, err := js.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != pipeline.StatusCancelled {
		t.Fatalf("cancelled job must stay cancelled, got %s", final.Status)
	}
	fetch.mu.Lock()
	submits := fetch.submitCalls
	fetch.mu.Unlock()
	if submits != 0 {
		t.Fatalf("driver submitted %d times for a cancelled job", submits)
	}
}

func TestCancelIdleJobUpdatesStoreDirectly(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch"},
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")

	cancelled, err := runner.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != pipeline.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestCancelTerminalJobReturnsError(t *testing.T) {
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", polls: completes("a")},
		pipeline.StageNormalize:  &fakeClient{name: "normalize", polls: completes("b")},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe", polls: completes("c")},
	}
	runner, js, _ := newTestRunner(t, clients)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitForTerminal(t, js, job.ID)

	if _, err := runner.Cancel(context.Background(), job.ID); !errors.Is(err, orchestrator.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

// flakyStore fails Save with an unavailable error a fixed number of times
// before delegating to the real backend.
type flakyStore struct {
	store.JobStore

	mu        sync.Mutex
	failures  int
	saveCalls int
}

func (f *flakyStore) Save(ctx context.Context, job pipeline.Job) error {
	f.mu.Lock()
	f.saveCalls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return services.Wrap(services.ErrUnavailable, "store", "save", "connection refused", nil)
	}
	return f.JobStore.Save(ctx, job)
}

func (f *flakyStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

func TestSaveRetriesThroughStoreHiccup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	js := &flakyStore{JobStore: testsupport.MustOpenStore(t, cfg), failures: 2}
	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")},
		pipeline.StageNormalize:  &fakeClient{name: "normalize", polls: completes("/tmp/norm.wav")},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe", polls: completes("text")},
	}
	runner := orchestrator.NewRunner(cfg, js, clients, nil, nil, orchestrator.WithSleeper(instantSleeper{}))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(runner.Stop)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completion despite store hiccup, got %s (%+v)", final.Status, final.Error)
	}
}

func TestSaveGivesUpAfterRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	js := &flakyStore{JobStore: testsupport.MustOpenStore(t, cfg), failures: 1 << 30}
	fetch := &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")}
	clients := orchestrator.Clients{
		pipeline.StageFetch:      fetch,
		pipeline.StageNormalize:  &fakeClient{name: "normalize"},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe"},
	}
	runner := orchestrator.NewRunner(cfg, js, clients, nil, nil, orchestrator.WithSleeper(instantSleeper{}))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(runner.Stop)

	job := testsupport.NewJob(t, js, "ref")
	if err := runner.Launch(job); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && runner.ActiveCount() > 0 {
		time.Sleep(5 * time.Millisecond)
	}

	// The first persisted transition exhausts the retry budget and the driver
	// abandons the job without rewriting the record.
	if got := js.calls(); got != 3 {
		t.Fatalf("expected 3 save attempts, got %d", got)
	}
	final, err := js.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != pipeline.StatusQueued {
		t.Fatalf("abandoned job must keep its last consistent state, got %s", final.Status)
	}
	fetch.mu.Lock()
	submits := fetch.submitCalls
	fetch.mu.Unlock()
	if submits != 0 {
		t.Fatalf("stage submitted %d times before the transition was persisted", submits)
	}
}

func TestStartResumesInFlightJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	js := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, js, "ref")
	now := time.Now().UTC()
	if err := job.BeginStage(0, now); err != nil {
		t.Fatalf("BeginStage failed: %v", err)
	}
	job.SetStageRemote(0, "remote-fetch", now)
	if err := js.Save(context.Background(), job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	clients := orchestrator.Clients{
		pipeline.StageFetch:      &fakeClient{name: "fetch", polls: completes("/tmp/raw.mp4")},
		pipeline.StageNormalize:  &fakeClient{name: "normalize", polls: completes("/tmp/norm.wav")},
		pipeline.StageTranscribe: &fakeClient{name: "transcribe", polls: completes("text")},
	}
	runner := orchestrator.NewRunner(cfg, js, clients, nil, nil, orchestrator.WithSleeper(instantSleeper{}))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(runner.Stop)

	final := waitForTerminal(t, js, job.ID)
	if final.Status != pipeline.StatusCompleted {
		t.Fatalf("expected resumed job to complete, got %s", final.Status)
	}

	fetch := clients[pipeline.StageFetch].(*fakeClient)
	fetch.mu.Lock()
	submits := fetch.submitCalls
	fetch.mu.Unlock()
	if submits != 0 {
		t.Fatalf("resumed stage with a remote id must not resubmit, got %d submits", submits)
	}
}
