package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_BurstsUpToRPM(t *testing.T) {
	l := NewTokenBucketLimiter(5)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(), "token %d should be available from the initial burst", i)
	}
	assert.False(t, l.Allow(), "bucket should be exhausted after rpm tokens")
}

func TestTokenBucketLimiter_RefillsOverTime(t *testing.T) {
	l := NewTokenBucketLimiter(600) // 10 tokens/sec
	for l.Allow() {
	}
	require.False(t, l.Allow())

	time.Sleep(120 * time.Millisecond)
	assert.True(t, l.Allow(), "refill should have produced at least one token after ~120ms at 10/sec")
}

func TestTokenBucketLimiter_ZeroOrNegativeRPMDefaultsToOne(t *testing.T) {
	l := NewTokenBucketLimiter(0)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestTokenBucketLimiter_NeverExceedsBucketSize(t *testing.T) {
	l := NewTokenBucketLimiter(3)
	time.Sleep(500 * time.Millisecond) // plenty of time to overfill if capping were broken

	count := 0
	for l.Allow() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestTokenBucketLimiter_AllowN_ConsumesMultipleUnits(t *testing.T) {
	l := NewTokenBucketLimiter(100)
	assert.True(t, l.AllowN(80))
	assert.False(t, l.AllowN(30), "only 20 units left")
	assert.True(t, l.AllowN(20))
}

func TestTokenBucketLimiter_Refund_CapsAtBucketSize(t *testing.T) {
	l := NewTokenBucketLimiter(10)
	l.Refund(1000)
	assert.Equal(t, 10, int(l.tokens))
}

func TestTokenBucketLimiter_Debit_AllowsNegativeBalance(t *testing.T) {
	l := NewTokenBucketLimiter(10)
	l.Debit(50)
	assert.False(t, l.AllowN(1), "balance should still be negative after a single unit")
}

func TestTokenManager_PerProviderIsolation(t *testing.T) {
	m := NewTokenManager(map[string]int{"openai": 1, "anthropic": 1}, nil)

	assert.True(t, m.Allow("openai"))
	assert.False(t, m.Allow("openai"))
	assert.True(t, m.Allow("anthropic"), "anthropic's budget is independent of openai's")
}

func TestTokenManager_UnknownProviderLazilyCreated(t *testing.T) {
	m := NewTokenManager(map[string]int{}, nil)
	assert.True(t, m.Allow("google"))
}

func TestTokenManager_WaitReturnsTrueOnceAdmitted(t *testing.T) {
	m := NewTokenManager(map[string]int{"openai": 60}, nil)
	m.Allow("openai") // consume one of the 60 initial tokens

	doneCh := make(chan struct{})
	admitted := m.Wait(doneCh, "openai")
	assert.True(t, admitted)
}

func TestTokenManager_WaitReturnsFalseOnCancellation(t *testing.T) {
	m := NewTokenManager(map[string]int{"openai": 1}, nil)
	m.Allow("openai") // exhaust the only token

	doneCh := make(chan struct{})
	close(doneCh)

	admitted := m.Wait(doneCh, "openai")
	assert.False(t, admitted)
}

func TestTokenManager_ConcurrentAllowIsRaceFree(t *testing.T) {
	m := NewTokenManager(map[string]int{"openai": 1000}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Allow("openai")
		}()
	}
	wg.Wait()
}

func TestTokenManager_ReserveTokens_PerProviderIsolation(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{"openai": 100, "anthropic": 100})

	assert.True(t, m.ReserveTokens("openai", 80))
	assert.False(t, m.ReserveTokens("openai", 30), "only 20 tokens/min left for openai")
	assert.True(t, m.ReserveTokens("anthropic", 80), "anthropic's token budget is independent")
}

func TestTokenManager_ReserveTokens_UnconfiguredProviderIsUnbounded(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{})
	assert.True(t, m.ReserveTokens("google", 1_000_000))
}

func TestTokenManager_AdjustTokens_RefundsOverestimate(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{"openai": 100})
	m.ReserveTokens("openai", 100) // exhaust the bucket on the estimate

	m.AdjustTokens("openai", 100, 40) // actual usage was much lower
	assert.True(t, m.ReserveTokens("openai", 60), "the 60-token overestimate should have been refunded")
}

func TestTokenManager_AdjustTokens_DebitsUnderestimate(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{"openai": 100})
	m.ReserveTokens("openai", 50) // half the bucket reserved on the estimate

	m.AdjustTokens("openai", 50, 90) // actual usage was higher than estimated
	assert.False(t, m.ReserveTokens("openai", 50), "the 40-token shortfall should have been debited")
}

func TestTokenManager_AdjustTokens_ZeroActualFullyRefunds(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{"openai": 100})
	m.ReserveTokens("openai", 100)

	m.AdjustTokens("openai", 100, 0) // call never completed
	assert.True(t, m.ReserveTokens("openai", 100))
}

func TestTokenManager_WaitTokens_ReturnsFalseOnCancellation(t *testing.T) {
	m := NewTokenManager(nil, map[string]int{"openai": 10})
	m.ReserveTokens("openai", 10) // exhaust the bucket

	doneCh := make(chan struct{})
	close(doneCh)

	assert.False(t, m.WaitTokens(doneCh, "openai", 10))
}
