// Package ratelimit implements the per-provider token-bucket limiter used by
// the Rate-Limited Caller (SPEC_FULL.md §4.2). The limiter state is
// process-wide per provider and mutated under a mutex short enough not to
// dominate (SPEC_FULL.md §5), guaranteeing the orchestrator's concurrency
// never exceeds a provider's declared requests/min or tokens/min regardless
// of how many audits run at once.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucketLimiter enforces a per-minute budget via classic token-bucket
// refill. It is unit-agnostic: the same type backs both the requests/min
// bucket (one unit per call) and the tokens/min bucket (one unit per LLM
// token), since both are "N units replenished linearly over 60s" budgets.
type TokenBucketLimiter struct {
	mu         sync.Mutex
	bucketSize float64
	refillRate float64 // units per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter that allows up to perMinute units
// per minute, bursting up to perMinute before refill catches up.
func NewTokenBucketLimiter(perMinute int) *TokenBucketLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &TokenBucketLimiter{
		bucketSize: float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		tokens:     float64(perMinute),
		lastRefill: time.Now(),
	}
}

// Allow reports whether a single unit may proceed now, consuming it if so.
func (l *TokenBucketLimiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN reports whether n units may proceed now, consuming them if so.
func (l *TokenBucketLimiter) AllowN(n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < n {
		return false
	}
	l.tokens -= n
	return true
}

// Refund credits n units back into the bucket, capped at bucketSize. Used to
// true up a pre-call estimate once the actual usage turns out lower.
func (l *TokenBucketLimiter) Refund(n float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens += n
	if l.tokens > l.bucketSize {
		l.tokens = l.bucketSize
	}
}

// Debit force-subtracts n units after refilling, allowing the balance to go
// negative. Used to true up a pre-call estimate once the actual usage turns
// out higher than reserved; the call already happened, so the only lever
// left is making the next admission wait longer for refill to recover.
func (l *TokenBucketLimiter) Debit(n float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	l.tokens -= n
}

func (l *TokenBucketLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.bucketSize {
		l.tokens = l.bucketSize
	}
	l.lastRefill = now
}

// TokenManager is a process-wide registry of two TokenBucketLimiters per
// provider id — one for requests/min, one for tokens/min — constructed once
// at process start and shared by every audit worker (SPEC_FULL.md §4.2,
// §5 "shared resources"). A provider absent from tpms gets an effectively
// unbounded tokens/min budget (see NewTokenManager).
type TokenManager struct {
	mu          sync.Mutex
	rpmLimiters map[string]*TokenBucketLimiter
	tpmLimiters map[string]*TokenBucketLimiter
	rpms        map[string]int
	tpms        map[string]int
}

// NewTokenManager builds a manager pre-seeded with one requests/min limiter
// per provider id in rpms and one tokens/min limiter per provider id in
// tpms. A provider id present in rpms but absent from tpms is treated as
// having no configured token budget and is seeded at math.MaxInt32 per
// minute, which never binds in practice.
func NewTokenManager(rpms map[string]int, tpms map[string]int) *TokenManager {
	m := &TokenManager{
		rpmLimiters: make(map[string]*TokenBucketLimiter, len(rpms)),
		tpmLimiters: make(map[string]*TokenBucketLimiter, len(tpms)),
		rpms:        rpms,
		tpms:        tpms,
	}
	for provider, rpm := range rpms {
		m.rpmLimiters[provider] = NewTokenBucketLimiter(rpm)
	}
	for provider, tpm := range tpms {
		if tpm <= 0 {
			tpm = unboundedTPM
		}
		m.tpmLimiters[provider] = NewTokenBucketLimiter(tpm)
	}
	return m
}

const unboundedTPM = math.MaxInt32

// Allow reports whether a call to provider may proceed now under the
// requests/min budget.
func (m *TokenManager) Allow(provider string) bool {
	return m.rpmLimiterFor(provider).AllowN(1)
}

// Wait blocks, polling at a short interval, until the provider's
// requests/min budget admits a call or the context is cancelled.
func (m *TokenManager) Wait(doneCh <-chan struct{}, provider string) bool {
	return pollUntil(doneCh, func() bool { return m.Allow(provider) })
}

// ReserveTokens attempts to debit estimate units from the provider's
// tokens/min budget without blocking.
func (m *TokenManager) ReserveTokens(provider string, estimate int) bool {
	return m.tpmLimiterFor(provider).AllowN(float64(estimate))
}

// WaitTokens blocks, polling at a short interval, until the provider's
// tokens/min budget can admit estimate units or the context is cancelled.
func (m *TokenManager) WaitTokens(doneCh <-chan struct{}, provider string, estimate int) bool {
	return pollUntil(doneCh, func() bool { return m.ReserveTokens(provider, estimate) })
}

// AdjustTokens true-ups a pre-call reservation of estimate units against the
// actual token count once it is known (actual is 0 when the call never
// completed, which fully refunds the reservation).
func (m *TokenManager) AdjustTokens(provider string, estimate, actual int) {
	delta := actual - estimate
	if delta == 0 {
		return
	}
	limiter := m.tpmLimiterFor(provider)
	if delta > 0 {
		limiter.Debit(float64(delta))
	} else {
		limiter.Refund(float64(-delta))
	}
}

func (m *TokenManager) rpmLimiterFor(provider string) *TokenBucketLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.rpmLimiters[provider]
	if !ok {
		limiter = NewTokenBucketLimiter(m.rpms[provider])
		m.rpmLimiters[provider] = limiter
	}
	return limiter
}

func (m *TokenManager) tpmLimiterFor(provider string) *TokenBucketLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.tpmLimiters[provider]
	if !ok {
		tpm := m.tpms[provider]
		if tpm <= 0 {
			tpm = unboundedTPM
		}
		limiter = NewTokenBucketLimiter(tpm)
		m.tpmLimiters[provider] = limiter
	}
	return limiter
}

func pollUntil(doneCh <-chan struct{}, admit func() bool) bool {
	const pollInterval = 10 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if admit() {
			return true
		}
		select {
		case <-doneCh:
			return false
		case <-ticker.C:
		}
	}
}
