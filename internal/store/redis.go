package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scribe/internal/pipeline"
	"scribe/internal/services"
)

const (
	jobKeyPrefix = "scribe:job:"
	jobIndexKey  = "scribe:jobs:by-received"
)

// RedisStore persists jobs as JSON values with a native key TTL. A sorted set
// scored by receipt time backs listing, so List never scans the keyspace.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis connects to the Redis instance at addr and verifies reachability.
func OpenRedis(addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrUnavailable, "store", "open", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Create(ctx context.Context, job pipeline.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), payload, s.ttl)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(job.ReceivedAt.UnixNano()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "create", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (pipeline.Job, error) {
	payload, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pipeline.Job{}, services.Wrap(services.ErrNotFound, "store", "get", id, nil)
		}
		return pipeline.Job{}, services.Wrap(services.ErrUnavailable, "store", "get", id, err)
	}
	var job pipeline.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return pipeline.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, nil
}

// Save overwrites the stored job while keeping its original expiry, so a busy
// job cannot extend its own retention window.
func (s *RedisStore) Save(ctx context.Context, job pipeline.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	set, err := s.client.SetArgs(ctx, jobKey(job.ID), payload, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return services.Wrap(services.ErrNotFound, "store", "save", job.ID, nil)
		}
		return services.Wrap(services.ErrUnavailable, "store", "save", job.ID, err)
	}
	if set == "" {
		return services.Wrap(services.ErrNotFound, "store", "save", job.ID, nil)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int, statuses ...pipeline.Status) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "store", "list", "", err)
	}

	wanted := make(map[pipeline.Status]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	summaries := make([]JobSummary, 0, limit)
	var stale []string
	for _, id := range ids {
		if len(summaries) >= limit {
			break
		}
		job, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		if len(wanted) > 0 && !wanted[job.Status] {
			continue
		}
		summaries = append(summaries, JobSummary{
			ID:         job.ID,
			InputRef:   job.InputRef,
			Status:     job.Status,
			Progress:   job.OverallProgress(),
			ReceivedAt: job.ReceivedAt,
			UpdatedAt:  job.UpdatedAt,
		})
	}
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		_ = s.client.ZRem(ctx, jobIndexKey, members...).Err()
	}
	return summaries, nil
}

// DeleteExpired prunes index entries whose job key has already lapsed. Redis
// expires the values itself, so only the sorted set needs sweeping.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	ids, err := s.client.ZRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return 0, services.Wrap(services.ErrUnavailable, "store", "delete expired", "", err)
	}
	var removed int64
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, jobKey(id)).Result()
		if err != nil {
			return removed, services.Wrap(services.ErrUnavailable, "store", "delete expired", id, err)
		}
		if exists == 0 {
			if err := s.client.ZRem(ctx, jobIndexKey, id).Err(); err != nil {
				return removed, services.Wrap(services.ErrUnavailable, "store", "delete expired", id, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *RedisStore) Stats(ctx context.Context) (map[pipeline.Status]int, error) {
	summaries, err := s.List(ctx, 10000)
	if err != nil {
		return nil, err
	}
	stats := make(map[pipeline.Status]int)
	for _, summary := range summaries {
		stats[summary.Status]++
	}
	return stats, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return services.Wrap(services.ErrUnavailable, "store", "ping", "", err)
	}
	return nil
}
