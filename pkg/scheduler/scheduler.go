// Package scheduler provides a cancellation-aware periodic loop with
// jitter, replacing ad-hoc sleep-forever polling.
package scheduler

import (
	"context"
	"math/rand"
	"time"
)

type Scheduler struct {
	Interval time.Duration
	// Jitter adds a uniform random delay in [0, Jitter) to every tick
	// so restarts of many processes do not align their polling.
	Jitter time.Duration
}

func New(interval, jitter time.Duration) Scheduler {
	return Scheduler{Interval: interval, Jitter: jitter}
}

// Run invokes fn immediately and then once per interval until ctx is
// canceled or fn returns an error. Ticks do not pile up: a slow fn simply
// delays the next run.
func (s Scheduler) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		if err := fn(ctx); err != nil {
			return err
		}
		if err := Sleep(ctx, s.NextDelay()); err != nil {
			return err
		}
	}
}

// NextDelay returns the wait before the next tick, jitter included, for
// callers that drive their own loop.
func (s Scheduler) NextDelay() time.Duration {
	delay := s.Interval
	if s.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(s.Jitter)))
	}
	return delay
}

// Sleep blocks for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
