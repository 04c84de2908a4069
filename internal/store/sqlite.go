package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scribe/internal/config"
	"scribe/internal/pipeline"
	"scribe/internal/services"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    input_ref   TEXT NOT NULL,
    status      TEXT NOT NULL,
    progress    REAL NOT NULL DEFAULT 0,
    payload     TEXT NOT NULL,
    received_at TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    expires_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_expires_at ON jobs(expires_at);
`

// SQLiteStore persists jobs in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	ttl  time.Duration
}

// OpenSQLite initializes or connects to the job database and applies the schema.
func OpenSQLite(cfg *config.Config, ttl time.Duration) (*SQLiteStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	// journal_mode, foreign_keys, and busy_timeout must ride the DSN: applied
	// via db.Exec they would only reach the single pooled connection that ran
	// them, leaving every other connection without a busy timeout.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, ttl: ttl}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job pipeline.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, input_ref, status, progress, payload, received_at, updated_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.InputRef,
		job.Status,
		job.OverallProgress(),
		string(payload),
		job.ReceivedAt.UTC().Format(time.RFC3339Nano),
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		now.Add(s.ttl).Format(time.RFC3339Nano),
	)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "create", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (pipeline.Job, error) {
	var payload string
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pipeline.Job{}, services.Wrap(services.ErrNotFound, "store", "get", id, nil)
		}
		return pipeline.Job{}, services.Wrap(services.ErrUnavailable, "store", "get", id, err)
	}
	var job pipeline.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return pipeline.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) Save(ctx context.Context, job pipeline.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = ?, payload = ?, updated_at = ? WHERE id = ?`,
		job.Status,
		job.OverallProgress(),
		string(payload),
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "save", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "save", job.ID, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "save", job.ID, nil)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int, statuses ...pipeline.Status) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, input_ref, status, progress, received_at, updated_at FROM jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
		query += ` WHERE status IN (` + placeholders + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY received_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "store", "list", "", err)
	}
	defer rows.Close()

	var summaries []JobSummary
	for rows.Next() {
		var (
			summary    JobSummary
			statusStr  string
			receivedAt string
			updatedAt  string
		)
		if err := rows.Scan(&summary.ID, &summary.InputRef, &statusStr, &summary.Progress, &receivedAt, &updatedAt); err != nil {
			return nil, err
		}
		summary.Status = pipeline.Status(statusStr)
		if parsed, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			summary.ReceivedAt = parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			summary.UpdatedAt = parsed
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, services.Wrap(services.ErrUnavailable, "store", "delete expired", "", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Stats(ctx context.Context) (map[pipeline.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "store", "stats", "", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.Status]int)
	for rows.Next() {
		var status pipeline.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return services.Wrap(services.ErrUnavailable, "store", "ping", "database connection unavailable", nil)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "ping", "", err)
	}
	return nil
}
