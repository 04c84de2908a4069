package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeServices()
	c.normalizeNotify()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.RedisAddr = strings.TrimSpace(c.Store.RedisAddr)
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = defaultRedisAddr
	}
	if c.Store.TTLHours <= 0 {
		c.Store.TTLHours = defaultStoreTTLHours
	}
	if c.Store.SweepIntervalMinutes <= 0 {
		c.Store.SweepIntervalMinutes = defaultSweepIntervalMinutes
	}
}

func (c *Config) normalizeServices() {
	normalizeService(&c.Services.Fetch, defaultFetchTimeout)
	normalizeService(&c.Services.Normalize, defaultNormalizeTimeout)
	normalizeService(&c.Services.Transcribe, defaultTranscribeTimeout)
}

func normalizeService(svc *Service, defaultTimeout int) {
	svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
	if svc.TimeoutSeconds <= 0 {
		svc.TimeoutSeconds = defaultTimeout
	}
}

func (c *Config) normalizeNotify() {
	c.Notify.NATSURL = strings.TrimSpace(c.Notify.NATSURL)
	c.Notify.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Notify.SubjectPrefix), ".")
	if c.Notify.SubjectPrefix == "" {
		c.Notify.SubjectPrefix = defaultNotifySubjectPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
