// Package circuitbreaker implements a per-provider breaker that sits between
// the Rate-Limited Caller and the Provider Adapter (SPEC_FULL.md §2.3, §4.2):
// after a run of consecutive transient failures for one provider within an
// audit's orchestration phase, it opens and short-circuits further calls to
// that provider instead of paying the full retry budget on every cell.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes one breaker instance.
type Config struct {
	Threshold        int           // consecutive failures before opening
	ResetTimeout     time.Duration // time in Open before trying Half-Open
	HalfOpenMaxCalls int           // calls allowed through while Half-Open
}

// DefaultConfig matches the teacher stack's defaults, tuned down for the
// per-audit lifetime this breaker actually lives for.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Breaker is a single provider's circuit breaker.
type Breaker struct {
	config Config

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// New constructs a closed breaker.
func New(config Config) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 2
	}
	return &Breaker{config: config, state: StateClosed}
}

// ErrOpen is returned by Allow when the breaker is open and short-circuiting.
type ErrOpen struct{}

func (ErrOpen) Error() string { return "circuitbreaker: provider circuit is open" }

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// once ResetTimeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenCallCount = 0
			return nil
		}
		return ErrOpen{}
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrOpen{}
		}
		b.halfOpenCallCount++
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call, closing the breaker if it was
// half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.halfOpenCallCount = 0
	}
}

// RecordFailure reports a failed call, opening the breaker once Threshold
// consecutive failures accumulate (or immediately, from half-open).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenCallCount = 0
	}
}

// State returns the current breaker state (for metrics).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Manager is a process-wide registry of one Breaker per provider id.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager builds a breaker manager using config for every provider.
func NewManager(config Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), config: config}
}

// For returns (creating if absent) the breaker for a provider id.
func (m *Manager) For(provider string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[provider]
	if !ok {
		b = New(m.config)
		m.breakers[provider] = b
	}
	return b
}
