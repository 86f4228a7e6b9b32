package services

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelayProvider simulates processing latency.
type DelayProvider interface {
	// Delay waits and returns the time spent, or ctx's error if ctx ends
	// first.
	Delay(ctx context.Context) (time.Duration, error)
}

// RandomDelay waits a uniformly random duration in [Min, Max].
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

func (d RandomDelay) Delay(ctx context.Context) (time.Duration, error) {
	wait := d.Min
	if d.Max > d.Min {
		wait += rand.N(d.Max - d.Min + 1)
	}
	return wait, sleep(ctx, wait)
}

// FixedDelay always waits the same duration.
type FixedDelay time.Duration

func (d FixedDelay) Delay(ctx context.Context) (time.Duration, error) {
	return time.Duration(d), sleep(ctx, time.Duration(d))
}

// NoDelay returns immediately.
type NoDelay struct{}

func (NoDelay) Delay(ctx context.Context) (time.Duration, error) {
	return 0, ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
