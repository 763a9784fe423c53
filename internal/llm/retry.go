package llm

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls the shared attempt loop: exponential backoff from Base,
// doubling per attempt up to Ceiling, with ±20% jitter on every delay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Ceiling     time.Duration
}

// DefaultRetryPolicy matches the pipeline defaults: 4 attempts, 500ms base,
// 5s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Base:        500 * time.Millisecond,
		Ceiling:     5 * time.Second,
	}
}

// Delay returns the jittered backoff before the given retry (attempt is
// 1-based; attempt 1 is the first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Ceiling {
			d = p.Ceiling
			break
		}
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}

// Do runs fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. Permanent errors abort immediately; context cancellation wins over
// any pending sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Complete runs one completion through the retry loop.
func (p RetryPolicy) Complete(ctx context.Context, client Client, req Request) (string, error) {
	var out string
	err := p.Do(ctx, func() error {
		var err error
		out, err = client.Complete(ctx, req)
		return err
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
