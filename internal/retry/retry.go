// Package retry decides whether a classified gateway failure is worth
// repeating and how long to wait before the next attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/quarrydb/quarry/gateway"
)

// Policy computes retry decisions and capped exponential backoff with
// jitter. The zero value is not usable; construct with New.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	rand func() float64
}

// New returns a policy with the given attempt ceiling and delay bounds.
// Non-positive arguments fall back to safe defaults.
func New(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		rand:        rand.Float64,
	}
}

// WithRand replaces the jitter source. Tests use this to make delays
// deterministic.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// ShouldRetry reports whether the operation may be attempted again after
// attempt (1-based) failed with err.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return Retryable(err)
}

// Delay returns the backoff before attempt+1: BaseDelay doubled per attempt,
// capped at MaxDelay, plus jitter in [0, delay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitterSource := p.rand
	if jitterSource == nil {
		jitterSource = rand.Float64
	}
	jitter := time.Duration(jitterSource() * float64(delay))
	return delay + jitter
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether err is a transient gateway fault. Anything that
// is not a classified gateway error is treated as permanent.
func Retryable(err error) bool {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.Retryable()
	}
	return false
}
