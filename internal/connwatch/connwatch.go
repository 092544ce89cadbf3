// Package connwatch waits for Home Assistant to become reachable and, for
// long-running commands, keeps track of whether it still is.
//
// This is distinct from httpkit's transport-level retry, which covers a
// single refused dial. connwatch covers outages measured in seconds to
// minutes, typically the restart that follows a configuration reload.
//
// Two shapes are offered:
//   - WaitReady probes with exponential backoff until the service answers
//     or the retries run out. One-shot commands use it before talking to
//     the API.
//   - Watcher does the same in the background and then keeps polling,
//     reporting ready/down transitions. "haconf watch" uses it so that a
//     validation run never blocks on an instance that is known to be down.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth.
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry.
	Multiplier float64

	// MaxRetries is the number of probe attempts before giving up
	// (WaitReady) or falling back to periodic polling (Watcher).
	MaxRetries int

	// PollInterval is the Watcher's background check interval.
	PollInterval time.Duration

	// ProbeTimeout limits each individual probe call.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig suits an interactive command: 1s, 2s, 4s, 8s, 8s
// with five attempts, about 15 seconds in all. That covers a core
// restart without leaving the user staring at a hung terminal.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults replaces zero-value fields with defaults.
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

func (b BackoffConfig) next(delay time.Duration) time.Duration {
	return min(time.Duration(float64(delay)*b.Multiplier), b.MaxDelay)
}

// WaitReady probes until the service answers, ctx is done, or
// MaxRetries attempts have failed. It returns the last probe error,
// wrapped with the service name.
func WaitReady(ctx context.Context, name string, probe ProbeFunc, backoff BackoffConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := backoff.withDefaults()

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err = probeOnce(ctx, probe, cfg.ProbeTimeout); err == nil {
			if attempt > 1 {
				logger.Info("service reachable", "service", name, "after_attempts", attempt)
			}
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		logger.Debug("probe failed, retrying",
			"service", name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay = cfg.next(delay)
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", name, cfg.MaxRetries, err)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Name identifies the service in logs (e.g. "homeassistant").
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// Backoff controls retry timing. Zero fields take defaults.
	Backoff BackoffConfig

	// OnReady is called, in its own goroutine, when the service becomes
	// reachable. Optional.
	OnReady func()

	// OnDown is called, in its own goroutine, when a reachable service
	// stops answering. Optional.
	OnDown func(err error)

	Logger *slog.Logger
}

// Watcher monitors a single service in the background.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// NewWatcher starts watching cfg.Probe until ctx is cancelled or Stop is
// called. It panics if Name is empty or Probe is nil.
func NewWatcher(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// LastCheck returns when the service was last probed.
func (w *Watcher) LastCheck() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheck
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if err == nil {
			w.transition(nil)
			break
		}
		if attempt == cfg.MaxRetries {
			logger.Info("service unreachable, polling in background",
				"service", w.config.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = cfg.next(delay)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.transition(w.probe(ctx))
		}
	}
}

// transition records a probe outcome and fires callbacks when readiness
// changes.
func (w *Watcher) transition(err error) {
	wasReady := w.ready.Load()
	switch {
	case err == nil && !wasReady:
		w.ready.Store(true)
		w.config.Logger.Info("service connected", "service", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case err != nil && wasReady:
		w.ready.Store(false)
		w.config.Logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	err := probeOnce(ctx, w.config.Probe, w.config.Backoff.ProbeTimeout)
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

func probeOnce(ctx context.Context, probe ProbeFunc, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return probe(probeCtx)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
