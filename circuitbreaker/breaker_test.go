package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// DefaultConfig / New
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 2, cfg.HalfOpenMaxCalls)
}

func TestNew_ZeroValuesCorrected(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 5, b.config.Threshold)
	assert.Equal(t, 30*time.Second, b.config.ResetTimeout)
	assert.Equal(t, 2, b.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, b.State())
}

// ---------------------------------------------------------------------------
// State.String()
// ---------------------------------------------------------------------------

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open
// ---------------------------------------------------------------------------

func TestBreaker_ClosedToOpen(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenRejectsCalls(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen{})
}

// ---------------------------------------------------------------------------
// Open -> HalfOpen -> Closed / Open
// ---------------------------------------------------------------------------

func TestBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 2})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenMaxCallsExceeded(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Allow()) // first half-open call consumes the only slot

	err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen{})
}

// ---------------------------------------------------------------------------
// Success resets the failure count in Closed state
// ---------------------------------------------------------------------------

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

func TestManager_ForIsPerProviderAndLazy(t *testing.T) {
	m := NewManager(DefaultConfig())

	openai := m.For("openai")
	anthropic := m.For("anthropic")
	require.NotSame(t, openai, anthropic)
	assert.Same(t, openai, m.For("openai"))
}

// ---------------------------------------------------------------------------
// Concurrent safety
// ---------------------------------------------------------------------------

func TestBreaker_ConcurrentSafety(t *testing.T) {
	b := New(Config{Threshold: 1000, ResetTimeout: 50 * time.Millisecond})

	var wg sync.WaitGroup
	var successCount atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Allow(); err == nil {
				b.RecordSuccess()
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, b.State())
}
