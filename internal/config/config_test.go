package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribe/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "scribe")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7718" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("unexpected store backend: %q", cfg.Store.Backend)
	}
	if cfg.Store.TTLHours != 24 {
		t.Fatalf("unexpected store TTL: %d", cfg.Store.TTLHours)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffBaseSeconds != 2 || cfg.Retry.BackoffCapSeconds != 10 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.RecoveryTimeoutSeconds != 60 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Polling.MaxAttempts != 300 {
		t.Fatalf("unexpected poll attempt bound: %d", cfg.Polling.MaxAttempts)
	}
	if cfg.Services.Normalize.TimeoutSeconds >= cfg.Services.Fetch.TimeoutSeconds {
		t.Fatal("expected normalize timeout shorter than fetch timeout")
	}
}

func TestLoadParsesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.toml")
	contents := strings.Join([]string{
		`[store]`,
		`backend = "redis"`,
		`redis_addr = "10.0.0.5:6379"`,
		`ttl_hours = 48`,
		``,
		`[services.fetch]`,
		`base_url = "http://fetch.internal:9000/"`,
		``,
		`[polling]`,
		`max_attempts = 25`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Store.Backend != "redis" {
		t.Fatalf("unexpected backend: %q", cfg.Store.Backend)
	}
	if cfg.Store.TTLHours != 48 {
		t.Fatalf("unexpected TTL: %d", cfg.Store.TTLHours)
	}
	if cfg.Services.Fetch.BaseURL != "http://fetch.internal:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Services.Fetch.BaseURL)
	}
	if cfg.Polling.MaxAttempts != 25 {
		t.Fatalf("unexpected poll attempts: %d", cfg.Polling.MaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "etcd" }},
		{"missing base url", func(c *config.Config) { c.Services.Transcribe.BaseURL = "" }},
		{"invalid base url", func(c *config.Config) { c.Services.Fetch.BaseURL = "not a url" }},
		{"zero breaker threshold", func(c *config.Config) { c.Breaker.FailureThreshold = 0 }},
		{"cap below base", func(c *config.Config) { c.Retry.BackoffCapSeconds = 1 }},
		{"zero poll attempts", func(c *config.Config) { c.Polling.MaxAttempts = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestServiceFor(t *testing.T) {
	cfg := config.Default()
	svc, ok := cfg.ServiceFor("Transcribe")
	if !ok {
		t.Fatal("expected transcribe service")
	}
	if svc.BaseURL == "" {
		t.Fatal("expected base url")
	}
	if _, ok := cfg.ServiceFor("mux"); ok {
		t.Fatal("expected unknown stage to miss")
	}
}
