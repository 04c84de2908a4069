package main

import (
	"time"

	"scribe/internal/breaker"
	"scribe/internal/config"
	"scribe/internal/orchestrator"
	"scribe/internal/pipeline"
	"scribe/internal/remote"
)

// buildClients constructs one breaker and one stage client per downstream
// service. The breaker is shared by every call to that service.
func buildClients(cfg *config.Config) (orchestrator.Clients, []*breaker.Breaker) {
	clients := make(orchestrator.Clients, pipeline.StageCount)
	breakers := make([]*breaker.Breaker, 0, pipeline.StageCount)

	for _, name := range pipeline.StageNames() {
		svc, _ := cfg.ServiceFor(string(name))
		br := breaker.New(string(name),
			cfg.Breaker.FailureThreshold,
			time.Duration(cfg.Breaker.RecoveryTimeoutSeconds)*time.Second,
		)
		clients[name] = remote.NewClient(remote.Config{
			Name:           string(name),
			BaseURL:        svc.BaseURL,
			AttemptTimeout: time.Duration(svc.TimeoutSeconds) * time.Second,
			MaxRetries:     cfg.Retry.MaxAttempts,
			RetryBaseDelay: time.Duration(cfg.Retry.BackoffBaseSeconds) * time.Second,
			RetryMaxDelay:  time.Duration(cfg.Retry.BackoffCapSeconds) * time.Second,
		}, br)
		breakers = append(breakers, br)
	}
	return clients, breakers
}
