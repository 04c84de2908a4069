package testsupport

import (
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithStoreTTL overrides the job retention window on the test config.
func WithStoreTTL(hours int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Store.TTLHours = hours
	}
}

// WithServiceURLs points all three stage services at the same base URL,
// typically an httptest server.
func WithServiceURLs(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Services.Fetch.BaseURL = baseURL
		cfg.Services.Normalize.BaseURL = baseURL
		cfg.Services.Transcribe.BaseURL = baseURL
	}
}
