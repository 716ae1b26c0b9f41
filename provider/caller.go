package provider

import (
	"context"
	"time"

	"github.com/brandpulse/geoaudit/circuitbreaker"
	"github.com/brandpulse/geoaudit/pipeline/perr"
	"github.com/brandpulse/geoaudit/ratelimit"
	"github.com/brandpulse/geoaudit/retry"
)

// Caller is the Rate-Limited Caller of SPEC_FULL.md §4.2: it wraps a bare
// Provider with the token-bucket limiter (both requests/min and tokens/min),
// the per-provider circuit breaker, and the full-jitter retry loop, in that
// order, so every pipeline stage calls through one path regardless of which
// provider it targets.
type Caller struct {
	providers map[string]Provider
	limiter   *ratelimit.TokenManager
	breakers  *circuitbreaker.Manager
	policy    retry.Policy
	timeout   time.Duration
}

// NewCaller builds a caller over the given providers, keyed by Name().
func NewCaller(providers []Provider, limiter *ratelimit.TokenManager, breakers *circuitbreaker.Manager, policy retry.Policy, perCallTimeout time.Duration) *Caller {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Caller{providers: byName, limiter: limiter, breakers: breakers, policy: policy, timeout: perCallTimeout}
}

// Complete runs one completion against the named provider, applying rate
// limiting, circuit breaking, and retry. ctx.Done() unblocks both the
// rate-limiter wait and the retry loop's backoff sleep.
func (c *Caller) Complete(ctx context.Context, providerName string, req Request) (*Response, error) {
	p, ok := c.providers[providerName]
	if !ok {
		return nil, perr.New(perr.KindFatal, "unknown_provider", "no adapter registered for provider "+providerName).WithProvider(providerName)
	}

	breaker := c.breakers.For(providerName)

	var resp *Response
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if !c.limiter.Wait(ctx.Done(), providerName) {
			return ctx.Err()
		}
		estimate := estimateTokens(req)
		if !c.limiter.WaitTokens(ctx.Done(), providerName, estimate) {
			return ctx.Err()
		}
		if allowErr := breaker.Allow(); allowErr != nil {
			c.limiter.AdjustTokens(providerName, estimate, 0) // reservation never used
			return perr.New(perr.KindTransient, "circuit_open", allowErr.Error()).WithProvider(providerName)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		r, callErr := p.Complete(callCtx, req)
		if callErr != nil {
			breaker.RecordFailure()
			c.limiter.AdjustTokens(providerName, estimate, 0) // call failed, refund the reservation
			return callErr
		}
		breaker.RecordSuccess()
		c.limiter.AdjustTokens(providerName, estimate, r.InputTokens+r.OutputTokens)
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
