package sink

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"logpipe/internal/config"
	"logpipe/pkg/metrics"
	"logpipe/pkg/models"
)

// BreakerSink wraps another sink with a circuit breaker so a dead backend
// fails fast instead of holding an HTTP timeout per retry. An open
// breaker surfaces as a transient error: the consumer keeps backing off
// and the offset stays put, exactly as if the write itself had failed.
type BreakerSink struct {
	inner Sink
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerSink(inner Sink, cfg config.CircuitBreakerConfig, name string) *BreakerSink {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, to)
		},
		IsSuccessful: func(err error) bool {
			// Rejected documents are the backend working correctly.
			return err == nil || !IsTransient(err)
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	metrics.SetCircuitBreakerState(name, cb.State())

	return &BreakerSink{inner: inner, cb: cb}
}

func (s *BreakerSink) Write(ctx context.Context, doc models.Document) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Write(ctx, doc)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return NewTransient(fmt.Errorf("circuit breaker %s: %w", s.cb.Name(), err))
	}
	return err
}

func (s *BreakerSink) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *BreakerSink) Close() error {
	return s.inner.Close()
}

// ForBinding builds the sink a topic binding asks for, wrapping it with
// the breaker when enabled.
func ForBinding(cfg *config.Config) (Sink, error) {
	var (
		s   Sink
		err error
	)
	switch cfg.Backend.Type {
	case config.BackendElasticsearch:
		s, err = NewElasticsearchSink(cfg.Backend.Elasticsearch)
	case config.BackendInfluxDB:
		s, err = NewInfluxDBSink(cfg.Backend.InfluxDB)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Backend.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CircuitBreaker.Enabled {
		s = NewBreakerSink(s, cfg.CircuitBreaker, cfg.Backend.Type)
	}
	return s, nil
}
