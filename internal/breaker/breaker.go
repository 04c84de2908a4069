package breaker

import (
	"fmt"
	"sync"
	"time"

	"scribe/internal/services"
)

// State identifies the circuit position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker guards one downstream service. A single instance is shared by every
// job task that talks to that service; all access is internally synchronized.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option customizes breaker construction.
type Option func(*Breaker)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs a closed breaker for the named service.
func New(name string, threshold int, recovery time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. In the open state calls are
// rejected until the recovery timeout elapses, after which exactly one probe
// call passes through in the half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return b.rejectLocked()
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return b.rejectLocked()
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failed call, opening the circuit at the threshold.
// A failed half-open probe reopens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}

// ReleaseProbe hands the half-open probe slot back without recording an
// outcome. Callers use it when a probe is abandoned before the service
// answered, such as caller cancellation; otherwise the slot would stay
// claimed and every later call would be rejected indefinitely.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) rejectLocked() error {
	return services.Wrap(services.ErrCircuitOpen, b.name, "call rejected",
		fmt.Sprintf("service presumed unhealthy after %d consecutive failures", b.failures), nil)
}

// Snapshot captures the breaker state for status reporting.
type Snapshot struct {
	Name     string     `json:"name"`
	State    State      `json:"state"`
	Failures int        `json:"consecutive_failures"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns a point-in-time copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{Name: b.name, State: b.state, Failures: b.failures}
	if b.state != StateClosed && !b.openedAt.IsZero() {
		opened := b.openedAt
		snap.OpenedAt = &opened
	}
	return snap
}
