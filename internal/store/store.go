// Package store persists job aggregates with a bounded retention window.
// Two backends are provided: an embedded SQLite database and Redis.
package store

import (
	"context"
	"fmt"
	"time"

	"scribe/internal/config"
	"scribe/internal/pipeline"
)

// JobSummary is the condensed listing row returned by List.
type JobSummary struct {
	ID         string          `json:"id"`
	InputRef   string          `json:"input_ref"`
	Status     pipeline.Status `json:"status"`
	Progress   float64         `json:"progress"`
	ReceivedAt time.Time       `json:"received_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobStore persists the Job aggregate keyed by job id with a time-to-live.
// There are no partial updates: callers read-modify-write the whole aggregate,
// which is safe because the orchestrator is the sole writer per job.
type JobStore interface {
	// Create inserts a new job record and starts its TTL clock.
	Create(ctx context.Context, job pipeline.Job) error
	// Get returns the stored aggregate. Missing ids yield services.ErrNotFound;
	// an unreachable store yields services.ErrUnavailable, never a false miss.
	Get(ctx context.Context, id string) (pipeline.Job, error)
	// Save overwrites the whole aggregate, last writer wins. The record's
	// remaining TTL is preserved.
	Save(ctx context.Context, job pipeline.Job) error
	// List returns summaries ordered by creation time, newest first, filtered
	// by status when statuses are provided.
	List(ctx context.Context, limit int, statuses ...pipeline.Status) ([]JobSummary, error)
	// DeleteExpired removes records whose TTL has lapsed and reports the count.
	DeleteExpired(ctx context.Context) (int64, error)
	// Stats returns a count of jobs grouped by status.
	Stats(ctx context.Context) (map[pipeline.Status]int, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Open constructs the configured store backend.
func Open(cfg *config.Config) (JobStore, error) {
	ttl := time.Duration(cfg.Store.TTLHours) * time.Hour
	switch cfg.Store.Backend {
	case "redis":
		return OpenRedis(cfg.Store.RedisAddr, cfg.Store.RedisDB, ttl)
	case "sqlite":
		return OpenSQLite(cfg, ttl)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
