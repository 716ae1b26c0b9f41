// Package retry implements the bounded, jittered-exponential-backoff retry
// loop used by the Rate-Limited Caller (SPEC_FULL.md §4.2).
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/brandpulse/geoaudit/pipeline/perr"
)

// Policy parameterizes the retry loop. DefaultPolicy matches SPEC_FULL.md
// §4.2 exactly: up to 3 retries, base 500ms, cap 10s, full jitter.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the spec-mandated retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// Delay computes the full-jitter backoff for the given attempt (1-indexed):
// delay = random(0, min(cap, base*2^attempt)).
func (p Policy) Delay(attempt int) time.Duration {
	capped := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if capped > float64(p.MaxDelay) {
		capped = float64(p.MaxDelay)
	}
	return time.Duration(rand.Float64() * capped) //nolint:gosec // jitter, not a security-sensitive value
}

// Func is the operation retried. It must return a *perr.Error (or nil) so
// the retry loop can branch on Kind.
type Func func(ctx context.Context) error

// Do runs fn, retrying on transient and quota errors per Policy, and
// returning immediately on permanent/data/fatal errors or on success.
// Quota errors use the same backoff shape as transient ones. Neither this
// loop nor provider.Caller applies a longer backoff to quota errors or fails
// the provider for the rest of the audit after repeated quota failures.
func Do(ctx context.Context, policy Policy, fn Func) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		pe, ok := err.(*perr.Error)
		if !ok || !pe.Retryable() {
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt + 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
