// Package resilience provides retry and circuit breaker primitives used by
// the turn pipeline around flaky provider calls.
//
// [Retry] re-runs an operation a bounded number of times with exponential
// backoff. [Breaker] is a classic three-state circuit breaker
// (closed → open → half-open) that rejects calls outright once a provider
// keeps failing, so a degraded dependency does not hold every turn hostage
// for its full timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy holds tuning knobs for [Retry].
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	// Default: 2.
	Attempts int

	// InitialBackoff is the wait before the second attempt. Each further
	// attempt doubles it. Default: 250ms.
	InitialBackoff time.Duration
}

// withDefaults replaces zero-value fields with their defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 2
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	return p
}

// Retry runs fn up to p.Attempts times, sleeping with exponential backoff
// between tries. It returns nil on the first success. When all attempts fail
// the last error is returned, wrapped with the attempt count. Cancelling ctx
// aborts the backoff wait and returns the context error.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	backoff := p.InitialBackoff
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("resilience: %d attempts failed: %w", p.Attempts, lastErr)
}
