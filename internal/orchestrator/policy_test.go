package orchestrator

import (
	"testing"
	"time"

	"scribe/internal/config"
)

func TestPollIntervalCadence(t *testing.T) {
	policy := newPollPolicy(config.Polling{
		InitialIntervalSeconds: 2,
		MaxIntervalSeconds:     5,
		FastAttempts:           10,
		MaxAttempts:            300,
	})

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{5, 2 * time.Second},
		{10, 2 * time.Second},
		{11, 4 * time.Second},
		{12, 5 * time.Second},
		{13, 5 * time.Second},
		{300, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.intervalFor(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestPollPolicyUncappedGrowth(t *testing.T) {
	policy := newPollPolicy(config.Polling{
		InitialIntervalSeconds: 1,
		MaxIntervalSeconds:     60,
		FastAttempts:           2,
		MaxAttempts:            100,
	})

	if got := policy.intervalFor(3); got != 2*time.Second {
		t.Fatalf("attempt 3: got %s, want 2s", got)
	}
	if got := policy.intervalFor(5); got != 8*time.Second {
		t.Fatalf("attempt 5: got %s, want 8s", got)
	}
	if got := policy.intervalFor(20); got != time.Minute {
		t.Fatalf("attempt 20: got %s, want the cap", got)
	}
}

func TestPollPolicyDefaults(t *testing.T) {
	policy := newPollPolicy(config.Polling{})
	if policy.initial != 2*time.Second || policy.max != 2*time.Second {
		t.Fatalf("unexpected interval defaults: %+v", policy)
	}
	if policy.fastAttempts != 10 || policy.maxAttempts != 300 {
		t.Fatalf("unexpected attempt defaults: %+v", policy)
	}

	clamped := newPollPolicy(config.Polling{InitialIntervalSeconds: 4, MaxIntervalSeconds: 1})
	if clamped.max != 4*time.Second {
		t.Fatalf("max below initial must clamp to the initial interval, got %s", clamped.max)
	}
}
