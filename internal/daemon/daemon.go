package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/breaker"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/notify"
	"scribe/internal/orchestrator"
	"scribe/internal/store"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.JobStore
	runner   *orchestrator.Runner
	notifier notify.Service
	breakers []*breaker.Breaker

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies. Breakers are only
// used for status reporting; the stage clients own their behavior.
func New(cfg *config.Config, js store.JobStore, runner *orchestrator.Runner, notifier notify.Service, breakers []*breaker.Breaker, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || js == nil || runner == nil {
		return nil, errors.New("daemon requires config, store, and runner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notify.Noop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "scribed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    js,
		runner:   runner,
		notifier: notifier,
		breakers: breakers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, resumes in-flight jobs, and launches the
// API server and TTL sweep loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		d.cancel = nil
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.runner.Stop()
			cancel()
			_ = d.lock.Unlock()
			d.cancel = nil
			return err
		}
	}

	d.wg.Add(1)
	go d.sweepLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store_backend", d.cfg.Store.Backend),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.runner.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.notifier.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listener address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// sweepLoop periodically removes jobs whose retention window has lapsed.
func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.Store.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.store.DeleteExpired(ctx)
			if err != nil {
				d.logger.Warn("expired job sweep failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("swept expired jobs", logging.Int64("removed", removed))
			}
		}
	}
}
