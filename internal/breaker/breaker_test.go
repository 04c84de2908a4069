package breaker_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"scribe/internal/breaker"
	"scribe/internal/services"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, recovery time.Duration) (*breaker.Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	return breaker.New("fetch", threshold, recovery, breaker.WithClock(clock.Now)), clock
}

func TestOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d rejected while closed: %v", i, err)
		}
		b.RecordFailure()
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("expected rejection after threshold failures")
	}
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected circuit-open marker, got %v", err)
	}
	if snap := b.Snapshot(); snap.State != breaker.StateOpen || snap.OpenedAt == nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if err := b.Allow(); err != nil {
		t.Fatalf("breaker opened before threshold: %v", err)
	}
}

func TestRecoveryAllowsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	if err := b.Allow(); err == nil {
		t.Fatal("expected open rejection")
	}

	clock.Advance(time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to pass: %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected second call rejected while probe in flight")
	}
	if snap := b.Snapshot(); snap.State != breaker.StateHalfOpen {
		t.Fatalf("unexpected state: %s", snap.State)
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.RecordSuccess()

	snap := b.Snapshot()
	if snap.State != breaker.StateClosed || snap.Failures != 0 {
		t.Fatalf("unexpected snapshot after probe success: %+v", snap)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.RecordFailure()

	if snap := b.Snapshot(); snap.State != breaker.StateOpen {
		t.Fatalf("expected reopen after probe failure, got %s", snap.State)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection before a fresh recovery window elapses")
	}
	clock.Advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected new probe after second recovery window: %v", err)
	}
}

func TestReleaseProbeFreesSlotForLaterCalls(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}

	// The probe is abandoned without an outcome. Without releasing the slot
	// the breaker would reject every call from here on.
	b.ReleaseProbe()

	clock.Advance(24 * time.Hour)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected fresh probe after abandoned one, got %v", err)
	}
	b.RecordSuccess()
	if snap := b.Snapshot(); snap.State != breaker.StateClosed {
		t.Fatalf("expected closed after probe success, got %s", snap.State)
	}
}

func TestReleaseProbeOutsideHalfOpenIsNoop(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.ReleaseProbe()
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
	b.RecordFailure()
	b.RecordFailure()
	b.ReleaseProbe()
	if err := b.Allow(); err == nil {
		t.Fatal("expected open breaker to keep rejecting")
	}
}

func TestConcurrentFailuresOpenOnce(t *testing.T) {
	b, _ := newTestBreaker(50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()

	if snap := b.Snapshot(); snap.State != breaker.StateOpen {
		t.Fatalf("expected open after concurrent failures, got %+v", snap)
	}
}
