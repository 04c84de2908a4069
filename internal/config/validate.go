package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("store.backend must be \"sqlite\" or \"redis\", got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return errors.New("store.redis_addr must be set when store.backend is \"redis\"")
	}
	return nil
}

func (c *Config) validateServices() error {
	for _, svc := range []struct {
		name string
		cfg  Service
	}{
		{"services.fetch", c.Services.Fetch},
		{"services.normalize", c.Services.Normalize},
		{"services.transcribe", c.Services.Transcribe},
	} {
		if svc.cfg.BaseURL == "" {
			return fmt.Errorf("%s.base_url must be set", svc.name)
		}
		parsed, err := url.Parse(svc.cfg.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s.base_url %q is not a valid URL", svc.name, svc.cfg.BaseURL)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must not be negative")
	}
	if c.Retry.BackoffBaseSeconds <= 0 {
		return errors.New("retry.backoff_base_seconds must be positive")
	}
	if c.Retry.BackoffCapSeconds < c.Retry.BackoffBaseSeconds {
		return errors.New("retry.backoff_cap_seconds must be at least retry.backoff_base_seconds")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker.failure_threshold must be positive")
	}
	if c.Breaker.RecoveryTimeoutSeconds <= 0 {
		return errors.New("breaker.recovery_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePolling() error {
	if c.Polling.InitialIntervalSeconds <= 0 {
		return errors.New("polling.initial_interval_seconds must be positive")
	}
	if c.Polling.MaxIntervalSeconds < c.Polling.InitialIntervalSeconds {
		return errors.New("polling.max_interval_seconds must be at least polling.initial_interval_seconds")
	}
	if c.Polling.MaxAttempts <= 0 {
		return errors.New("polling.max_attempts must be positive")
	}
	return nil
}
