package notify_test

import (
	"context"
	"testing"
	"time"

	"scribe/internal/notify"
	"scribe/internal/pipeline"
	"scribe/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenURLMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notify.NATSURL = ""

	svc, err := notify.NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer svc.Close()

	job := pipeline.NewJob("job-1", "ref", nil, time.Now().UTC())
	if err := svc.Publish(context.Background(), notify.EventJobQueued, job, ""); err != nil {
		t.Fatalf("expected noop publisher to return nil, got %v", err)
	}
}
