package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/notify"
	"scribe/internal/pipeline"
	"scribe/internal/remote"
	"scribe/internal/store"
)

// ErrAlreadyTerminal is returned by Cancel when the job has already finished.
var ErrAlreadyTerminal = errors.New("job already terminal")

// Clients maps each pipeline stage to its downstream service client.
type Clients map[pipeline.StageName]remote.StageClient

// Sleeper abstracts interruptible waiting so tests can run without delay.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type contextSleeper struct{}

func (contextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner drives jobs through the pipeline. Each job gets a dedicated
// goroutine, and the runner is the sole writer of a job's record while that
// goroutine is alive.
type Runner struct {
	cfg      *config.Config
	store    store.JobStore
	clients  Clients
	notifier notify.Service
	logger   *slog.Logger
	sleeper  Sleeper
	now      func() time.Time

	polling pollPolicy

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
}

type pollPolicy struct {
	initial      time.Duration
	max          time.Duration
	fastAttempts int
	maxAttempts  int
}

func newPollPolicy(p config.Polling) pollPolicy {
	policy := pollPolicy{
		initial:      time.Duration(p.InitialIntervalSeconds) * time.Second,
		max:          time.Duration(p.MaxIntervalSeconds) * time.Second,
		fastAttempts: p.FastAttempts,
		maxAttempts:  p.MaxAttempts,
	}
	if policy.initial <= 0 {
		policy.initial = 2 * time.Second
	}
	if policy.max < policy.initial {
		policy.max = policy.initial
	}
	if policy.fastAttempts <= 0 {
		policy.fastAttempts = 10
	}
	if policy.maxAttempts <= 0 {
		policy.maxAttempts = 300
	}
	return policy
}

// intervalFor returns the wait before poll attempt n (1-based). The cadence
// stays at the initial interval for the first fastAttempts polls, then doubles
// until it reaches the cap.
func (p pollPolicy) intervalFor(attempt int) time.Duration {
	if attempt <= p.fastAttempts {
		return p.initial
	}
	interval := p.initial
	for i := p.fastAttempts; i < attempt; i++ {
		interval *= 2
		if interval >= p.max {
			return p.max
		}
	}
	return interval
}

// RunnerOption configures optional Runner behavior.
type RunnerOption func(*Runner)

// WithSleeper replaces the wait implementation used between polls.
func WithSleeper(s Sleeper) RunnerOption {
	return func(r *Runner) {
		if s != nil {
			r.sleeper = s
		}
	}
}

// WithClock replaces the time source used for job timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a runner over the given store and stage clients.
func NewRunner(cfg *config.Config, js store.JobStore, clients Clients, notifier notify.Service, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	r := &Runner{
		cfg:      cfg,
		store:    js,
		clients:  clients,
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "orchestrator")),
		sleeper:  contextSleeper{},
		now:      time.Now,
		polling:  newPollPolicy(cfg.Polling),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start prepares the runner for launching jobs and resumes any jobs that were
// in flight when the previous process stopped.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.baseCtx = runCtx
	r.cancel = cancel
	r.active = make(map[string]context.CancelFunc)
	r.running = true
	r.mu.Unlock()

	return r.resume(runCtx)
}

// Stop cancels all in-flight job drivers and waits for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Launch starts driving the job in its own goroutine. The job must already be
// persisted.
func (r *Runner) Launch(job pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return errors.New("orchestrator not running")
	}
	if _, exists := r.active[job.ID]; exists {
		return fmt.Errorf("job %s already active", job.ID)
	}
	jobCtx, cancel := context.WithCancel(r.baseCtx)
	r.active[job.ID] = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.unregister(job.ID)
		r.drive(jobCtx, job)
	}()
	return nil
}

// Cancel requests cancellation of a job. Active jobs observe the request at
// their next poll iteration; idle jobs are cancelled directly in the store.
func (r *Runner) Cancel(ctx context.Context, id string) (pipeline.Job, error) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return pipeline.Job{}, err
	}
	if job.Status.IsTerminal() {
		return job, ErrAlreadyTerminal
	}

	r.mu.Lock()
	cancel, isActive := r.active[id]
	r.mu.Unlock()
	if isActive {
		cancel()
		return job, nil
	}

	job.Cancel(r.now())
	if err := r.saveJob(ctx, &job); err != nil {
		return pipeline.Job{}, err
	}
	r.publish(ctx, notify.EventJobCancelled, job, pipeline.CancelledReason)
	return job, nil
}

// CheckServices probes every configured stage service. The result maps the
// service name to its probe outcome; nil means the probe succeeded. Probe
// outcomes feed the shared breakers the same way regular calls do.
func (r *Runner) CheckServices(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.clients))
	for _, client := range r.clients {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		results[client.Name()] = client.Health(probeCtx)
		cancel()
	}
	return results
}

// ActiveCount reports how many job drivers are currently running.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Runner) unregister(id string) {
	r.mu.Lock()
	if cancel, ok := r.active[id]; ok {
		cancel()
		delete(r.active, id)
	}
	r.mu.Unlock()
}

// resume relaunches jobs that never reached a terminal state. A stage with a
// recorded remote id continues polling; anything else is (re)submitted from
// the top of its pending work.
func (r *Runner) resume(ctx context.Context) error {
	summaries, err := r.store.List(ctx, 1000,
		pipeline.StatusQueued,
		pipeline.StatusRunningFetch,
		pipeline.StatusRunningNormalize,
		pipeline.StatusRunningTranscribe,
	)
	if err != nil {
		return fmt.Errorf("list resumable jobs: %w", err)
	}
	for _, summary := range summaries {
		job, err := r.store.Get(ctx, summary.ID)
		if err != nil {
			r.logger.Warn("skipping unreadable job during resume",
				logging.String(logging.FieldJobID, summary.ID),
				logging.Error(err),
			)
			continue
		}
		if err := r.Launch(job); err != nil {
			return err
		}
		r.logger.Info("resumed job",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(job.Status)),
		)
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, event notify.Event, job pipeline.Job, detail string) {
	if err := r.notifier.Publish(ctx, event, job, detail); err != nil {
		r.logger.Warn("event publish failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, notify.Event, pipeline.Job, string) error { return nil }

func (noopNotifier) Close() {}
