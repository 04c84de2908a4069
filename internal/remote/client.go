package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribe/internal/breaker"
	"scribe/internal/services"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultMaxRetries     = 3
)

// Config captures the runtime settings for one stage service client.
type Config struct {
	Name           string
	BaseURL        string
	AttemptTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// HTTPDoer describes the HTTP client used by the stage client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one downstream stage service over HTTP. Every call runs
// through the shared circuit breaker, a per-attempt timeout, and retry with
// exponential backoff for transient failures, in that order.
type Client struct {
	cfg     Config
	http    HTTPDoer
	breaker *breaker.Breaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs a stage client. The breaker is the long-lived shared
// instance for this service; it must not be recreated per job.
func NewClient(cfg Config, br *breaker.Breaker, opts ...Option) *Client {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	client := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: br,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name returns the downstream service name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Submit sends work to the service and returns the remote job identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var remoteID string
	err := c.call(ctx, "submit", func(attemptCtx context.Context) error {
		encoded, err := json.Marshal(req)
		if err != nil {
			return services.Wrap(services.ErrInvalidRequest, c.cfg.Name, "submit", "encode payload", err)
		}
		var accepted struct {
			ID string `json:"id"`
		}
		if err := c.doJSON(attemptCtx, http.MethodPost, c.endpoint("jobs"), bytes.NewReader(encoded), &accepted); err != nil {
			return err
		}
		if strings.TrimSpace(accepted.ID) == "" {
			return services.Wrap(services.ErrInvalidRequest, c.cfg.Name, "submit", "service accepted work without an id", nil)
		}
		remoteID = accepted.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

// Poll fetches a single remote status snapshot for a previously submitted job.
func (c *Client) Poll(ctx context.Context, remoteJobID string) (PollResult, error) {
	var result PollResult
	if strings.TrimSpace(remoteJobID) == "" {
		return result, services.Wrap(services.ErrInvalidRequest, c.cfg.Name, "poll", "remote job id required", nil)
	}
	err := c.call(ctx, "poll", func(attemptCtx context.Context) error {
		return c.doJSON(attemptCtx, http.MethodGet, c.endpoint("jobs", remoteJobID), nil, &result)
	})
	if err != nil {
		return PollResult{}, err
	}
	return result, nil
}

// Health probes the service's liveness endpoint. Health is not retried; a
// single failed probe is answer enough.
func (c *Client) Health(ctx context.Context) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	err := c.doJSON(attemptCtx, http.MethodGet, c.endpoint("healthz"), nil, nil)
	if err != nil {
		err = c.classify(ctx, "health", err)
		c.recordOutcome(err)
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

// call wraps one logical operation: circuit check, timeout-bounded attempt,
// retry with backoff on transient failure, circuit update. A breaker that
// opens mid-retry aborts the remaining attempts.
func (c *Client) call(ctx context.Context, op string, attempt func(context.Context) error) error {
	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if err := c.breaker.Allow(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		err := attempt(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		err = c.classify(ctx, op, err)
		c.recordOutcome(err)
		if !services.IsRetryable(err) {
			return err
		}
		lastErr = err

		if i == c.cfg.MaxRetries {
			break
		}
		if sleepErr := c.sleep(ctx, c.backoffDelay(i)); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%s %s: failed after %d attempts: %w", c.cfg.Name, op, c.cfg.MaxRetries+1, lastErr)
}

// classify maps raw attempt errors onto the service error taxonomy. Context
// expiry of the per-attempt deadline is a transient timeout; cancellation of
// the caller's context is surfaced untouched.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, services.ErrInvalidRequest) ||
		errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrTransient) ||
		errors.Is(err, services.ErrTimeout) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, c.cfg.Name, op,
			fmt.Sprintf("attempt exceeded %s", c.cfg.AttemptTimeout), err)
	}
	return services.Wrap(services.ErrTransient, c.cfg.Name, op, "request failed", err)
}

// recordOutcome updates the shared breaker. Only failures that implicate the
// service's health count against it; a 4xx rejection proves the service is
// alive and resets the failure streak. Caller cancellation says nothing about
// the service, but the attempt may have held the half-open probe slot, which
// must be released so a later call can probe again.
func (c *Client) recordOutcome(err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrNotFound):
		c.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		c.breaker.ReleaseProbe()
	default:
		c.breaker.RecordFailure()
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.RetryMaxDelay {
			return c.cfg.RetryMaxDelay
		}
	}
	if delay > c.cfg.RetryMaxDelay {
		return c.cfg.RetryMaxDelay
	}
	return delay
}

func (c *Client) endpoint(parts ...string) string {
	joined, err := url.JoinPath(c.cfg.BaseURL, parts...)
	if err != nil {
		return c.cfg.BaseURL + "/" + strings.Join(parts, "/")
	}
	return joined
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return services.Wrap(services.ErrInvalidRequest, c.cfg.Name, "request", "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, c.cfg.Name, "request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, summarizeBody(payload)), nil)
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, c.cfg.Name, "request",
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return services.Wrap(services.ErrInvalidRequest, c.cfg.Name, "request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, summarizeBody(payload)), nil)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return services.Wrap(services.ErrTransient, c.cfg.Name, "request", "decode response", err)
	}
	return nil
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
