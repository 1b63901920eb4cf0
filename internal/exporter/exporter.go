// Package exporter tails local log files, encrypts each record, and
// publishes it to the Kafka topic its source routes to.
package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"logpipe/internal/broker"
	"logpipe/internal/cipher"
	"logpipe/internal/config"
	"logpipe/internal/logger"
	"logpipe/pkg/logging"
	"logpipe/pkg/metrics"
	"logpipe/pkg/models"
	"logpipe/pkg/retry"
	"logpipe/pkg/scheduler"
)

// Exporter discovers log sources and runs one follower per source. The
// watch directory is rescanned on a jittered interval, and a filesystem
// watcher triggers an early rescan when a new file appears.
type Exporter struct {
	cfg      config.ExporterConfig
	codec    *cipher.Codec
	producer broker.Producer
	limiter  *rate.Limiter
	policy   retry.Policy
	logger   logger.Logger

	mu        sync.Mutex
	followers map[string]struct{}
	wg        sync.WaitGroup
}

func New(cfg config.ExporterConfig, codec *cipher.Codec, producer broker.Producer, policy retry.Policy, log logger.Logger) *Exporter {
	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	return &Exporter{
		cfg:       cfg,
		codec:     codec,
		producer:  producer,
		limiter:   limiter,
		policy:    policy,
		logger:    log,
		followers: make(map[string]struct{}),
	}
}

// Run scans for sources until ctx is canceled, then waits for every
// follower to finish before returning.
func (e *Exporter) Run(ctx context.Context) error {
	events := e.watchEvents(ctx)
	sched := scheduler.New(e.cfg.ScanInterval, e.cfg.ScanJitter)

	for {
		e.scan(ctx)

		timer := time.NewTimer(sched.NextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.InfowCtx(ctx, "Stopping exporter, waiting for followers")
			e.wg.Wait()
			return nil
		case <-events:
			// A new file showed up; rescan without waiting for the tick.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// watchEvents wires an fsnotify watcher on the watch directory. The
// watcher is best effort: if it cannot be set up the periodic scan still
// finds new sources, just later.
func (e *Exporter) watchEvents(ctx context.Context) <-chan fsnotify.Event {
	if e.cfg.WatchDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.logger.WarnwCtx(ctx, "File watcher unavailable, relying on periodic scans", "error", err)
		return nil
	}
	if err := watcher.Add(e.cfg.WatchDir); err != nil {
		e.logger.WarnwCtx(ctx, "Cannot watch directory, relying on periodic scans",
			"dir", e.cfg.WatchDir,
			"error", err,
		)
		_ = watcher.Close()
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = watcher.Close()
	}()
	return watcher.Events
}

func (e *Exporter) scan(ctx context.Context) {
	for _, src := range e.sources(ctx) {
		e.follow(ctx, src)
	}
}

// sources merges the statically configured sources with the *.log files
// found in the watch directory. A discovered file is named after its base
// name, which is what topic routing keys on.
func (e *Exporter) sources(ctx context.Context) []config.SourceConfig {
	srcs := append([]config.SourceConfig(nil), e.cfg.Sources...)
	if e.cfg.WatchDir == "" {
		return srcs
	}
	matches, err := filepath.Glob(filepath.Join(e.cfg.WatchDir, "*.log"))
	if err != nil {
		e.logger.WarnwCtx(ctx, "Failed to scan watch directory", "dir", e.cfg.WatchDir, "error", err)
		return srcs
	}
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".log")
		srcs = append(srcs, config.SourceConfig{Name: name, Path: path})
	}
	return srcs
}

func (e *Exporter) follow(ctx context.Context, src config.SourceConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.followers[src.Name]; ok {
		return
	}
	if _, err := os.Stat(src.Path); err != nil {
		return
	}

	e.followers[src.Name] = struct{}{}
	metrics.ActiveFollowersGauge.Inc()

	follower := NewFollower(src.Name, src.Path, defaultPollInterval, e.export, e.logger)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := follower.Run(ctx); err != nil {
			e.logger.ErrorwCtx(logging.WithSource(ctx, src.Name), "Follower stopped", "error", err)
		}
		metrics.ActiveFollowersGauge.Dec()
		e.mu.Lock()
		delete(e.followers, src.Name)
		e.mu.Unlock()
	}()
}

// export encrypts one record and publishes it, retrying transient broker
// failures on the configured schedule. Exhausting the retry budget is
// reported to the caller as a PublishError.
func (e *Exporter) export(ctx context.Context, source, log string) error {
	topic := TopicForSource(source)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	plaintext, err := models.LogRecord{Name: source, Log: log}.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal log record: %w", err)
	}
	env, err := e.codec.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt log record: %w", err)
	}

	err = retry.RetryWithCallback(ctx, e.policy, func() error {
		return e.producer.Publish(ctx, topic, env)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.ExportPublishRetriesTotal.WithLabelValues(topic).Inc()
		e.logger.WarnwCtx(ctx, "Retrying publish",
			"topic", topic,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		metrics.RecordsExportedTotal.WithLabelValues(topic, "error").Inc()
		return broker.NewPublishError(topic, err)
	}
	metrics.RecordsExportedTotal.WithLabelValues(topic, "ok").Inc()
	return nil
}
