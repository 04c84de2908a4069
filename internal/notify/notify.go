package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"scribe/internal/config"
	"scribe/internal/pipeline"
)

// Event identifies a job lifecycle milestone.
type Event string

const (
	EventJobQueued    Event = "job.queued"
	EventJobStage     Event = "job.stage"
	EventJobCompleted Event = "job.completed"
	EventJobFailed    Event = "job.failed"
	EventJobCancelled Event = "job.cancelled"
)

// Message is the JSON body published for every lifecycle event.
type Message struct {
	Event    Event           `json:"event"`
	JobID    string          `json:"job_id"`
	Status   pipeline.Status `json:"status"`
	Stage    string          `json:"stage,omitempty"`
	Progress float64         `json:"progress"`
	Detail   string          `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
}

// Service defines the event surface exposed to the orchestrator and API.
// Implementations must be safe for concurrent use and must never block job
// processing on delivery.
type Service interface {
	Publish(ctx context.Context, event Event, job pipeline.Job, detail string) error
	Close()
}

// NewService builds an event publisher backed by NATS when configured.
// When no NATS URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) (Service, error) {
	url := strings.TrimSpace(cfg.Notify.NATSURL)
	if url == "" {
		return noopService{}, nil
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	prefix := strings.TrimSpace(cfg.Notify.SubjectPrefix)
	if prefix == "" {
		prefix = "scribe"
	}
	return &natsService{nc: nc, prefix: prefix}, nil
}

type natsService struct {
	nc     *nats.Conn
	prefix string
}

func (s *natsService) Publish(_ context.Context, event Event, job pipeline.Job, detail string) error {
	msg := Message{
		Event:    event,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.OverallProgress(),
		Detail:   detail,
		At:       time.Now().UTC(),
	}
	if current := job.CurrentStage(); current != nil {
		msg.Stage = string(current.Name)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := s.prefix + "." + string(event)
	if err := s.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (s *natsService) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

// Noop returns a publisher that drops every event.
func Noop() Service { return noopService{} }

type noopService struct{}

func (noopService) Publish(context.Context, Event, pipeline.Job, string) error { return nil }

func (noopService) Close() {}
