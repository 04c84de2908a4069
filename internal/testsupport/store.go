package testsupport

import (
	"context"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/pipeline"
	"scribe/internal/store"

	"github.com/google/uuid"
)

// MustOpenStore opens a job store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) store.JobStore {
	t.Helper()

	js, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		js.Close()
	})
	return js
}

// NewJob creates and persists a queued job for tests using the provided store.
func NewJob(t testing.TB, js store.JobStore, inputRef string) pipeline.Job {
	t.Helper()

	job := pipeline.NewJob(uuid.NewString(), inputRef, nil, time.Now().UTC())
	if err := js.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
