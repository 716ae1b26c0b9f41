package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandpulse/geoaudit/circuitbreaker"
	"github.com/brandpulse/geoaudit/pipeline/perr"
	"github.com/brandpulse/geoaudit/ratelimit"
	"github.com/brandpulse/geoaudit/retry"
)

type fakeProvider struct {
	name  string
	calls int32
	fn    func(ctx context.Context, req Request) (*Response, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, req)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestCaller_Complete_UnknownProviderIsFatal(t *testing.T) {
	c := NewCaller(nil, ratelimit.NewTokenManager(nil, nil), circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)
	_, err := c.Complete(context.Background(), "nonexistent", Request{})
	require.Error(t, err)
	assert.Equal(t, perr.KindFatal, perr.KindOf(err))
}

func TestCaller_Complete_SuccessPassesThrough(t *testing.T) {
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: "ok"}, nil
	}}
	c := NewCaller([]Provider{fp}, ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 100000}),
		circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)

	resp, err := c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fp.calls))
}

func TestCaller_Complete_RetriesTransientThenSucceeds(t *testing.T) {
	attempt := 0
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		attempt++
		if attempt < 3 {
			return nil, perr.New(perr.KindTransient, "blip", "transient failure")
		}
		return &Response{Text: "recovered"}, nil
	}}
	c := NewCaller([]Provider{fp}, ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 100000}),
		circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)

	resp, err := c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 3, attempt)
}

func TestCaller_Complete_PermanentErrorNotRetried(t *testing.T) {
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		return nil, perr.New(perr.KindPermanent, "bad_request", "nope")
	}}
	c := NewCaller([]Provider{fp}, ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 100000}),
		circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)

	_, err := c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fp.calls))
}

func TestCaller_Complete_OpenBreakerShortCircuits(t *testing.T) {
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		return nil, perr.New(perr.KindTransient, "blip", "always fails")
	}}
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenMaxCalls: 1})
	c := NewCaller([]Provider{fp}, ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 100000}),
		breakers, retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, time.Second)

	// First call trips the breaker (one failure, threshold 1).
	_, err := c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, breakers.For("openai").State())

	// Second call should short-circuit via the breaker rather than calling the adapter again.
	callsBefore := atomic.LoadInt32(&fp.calls)
	_, err = c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, callsBefore, atomic.LoadInt32(&fp.calls), "breaker should have rejected the call before reaching the adapter")
}

func TestCaller_Complete_BlocksUntilTokenBudgetAdmits(t *testing.T) {
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: "ok", InputTokens: 5, OutputTokens: 5}, nil
	}}
	limiter := ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 1})
	c := NewCaller([]Provider{fp}, limiter, circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "openai", Request{Prompt: "this prompt needs more than one token to estimate"})
	require.Error(t, err, "a 1 token/min budget should never admit a multi-token estimate before the context times out")
	assert.Equal(t, int32(0), atomic.LoadInt32(&fp.calls), "the adapter should never be reached while the token budget is exhausted")
}

func TestCaller_Complete_TrueUpsTokenReservationAfterCall(t *testing.T) {
	fp := &fakeProvider{name: "openai", fn: func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: "ok", InputTokens: 1, OutputTokens: 1}, nil
	}}
	limiter := ratelimit.NewTokenManager(map[string]int{"openai": 600}, map[string]int{"openai": 1000})
	c := NewCaller([]Provider{fp}, limiter, circuitbreaker.NewManager(circuitbreaker.DefaultConfig()), fastPolicy(), time.Second)

	_, err := c.Complete(context.Background(), "openai", Request{Prompt: "hi"})
	require.NoError(t, err)

	// The pre-call estimate for "hi" is 1 token; actual usage was 2, so
	// AdjustTokens should have debited one extra unit on top of the
	// reservation, leaving 998 of the 1000-token budget.
	assert.True(t, limiter.ReserveTokens("openai", 998), "bucket should reflect true usage (2 tokens), not a stale pre-call estimate")
	assert.False(t, limiter.ReserveTokens("openai", 1))
}
