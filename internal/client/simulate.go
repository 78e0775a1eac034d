package client

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// SimulatedExecutor stands in for real job logic: a random processing
// delay plus a configurable failure rate, so the demo worker can exercise
// the broker's retry and reap paths without a real task to run.
func SimulatedExecutor(failureRate float64, maxDelay time.Duration) Executor {
	return func(ctx context.Context, payload []byte) error {
		var delay time.Duration
		if maxDelay > 0 {
			delay = time.Duration(rand.Int63n(int64(maxDelay)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if rand.Float64() < failureRate {
			return errors.New("simulated execution failure")
		}
		return nil
	}
}
