// Package resilience provides retry with exponential backoff for the
// expert-model and storage calls the pipeline makes. Stage-level retry
// budgets (the critic loop) live in the engine; this package only
// handles transport-level transience.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls backoff between attempts.
type Policy struct {
	// Attempts is the total call count including the first try. A value
	// of 1 disables retries.
	Attempts int

	// BaseDelay is the sleep before the first retry; it doubles each
	// attempt up to MaxDelay, with up to ±25% jitter.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable overrides the default transient check when set.
	Retryable func(err error) bool
}

// DefaultPolicy suits expert-model API calls: three attempts, 500ms
// base, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Retry runs fn until it succeeds, the error is not transient, the
// policy is exhausted, or ctx is cancelled. The last error is returned.
func Retry[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == p.Attempts-1 {
			break
		}

		delay := p.delay(attempt)
		zap.L().Warn("retrying after transient failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Do is Retry for operations without a return value.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	d += (rand.Float64()*2 - 1) * d * 0.25
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
