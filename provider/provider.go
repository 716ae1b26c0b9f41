// Package provider holds the four hand-rolled LLM HTTP adapters
// (SPEC_FULL.md §4.1). No provider SDK is promoted to a direct dependency;
// each adapter is a thin raw-HTTP client in the style of the teacher's own
// providers/anthropic package, since every provider's request/response shape
// and error envelope differs enough that a shared SDK buys little.
package provider

import (
	"context"
	"time"
)

// Request is the provider-agnostic completion request built by whichever
// pipeline stage needs an LLM call (query generation, response collection,
// analysis scoring, recommendation extraction, executive summary).
type Request struct {
	Model       string
	SystemText  string
	Prompt      string
	Temperature float32
	// MaxTokens is left at zero unless a caller has a concrete reason to cap
	// output (SPEC_FULL.md §4.1 "no output token cap unless required");
	// zero means "let the provider's own default ceiling apply".
	MaxTokens int
}

// Response is the provider-agnostic completion result.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is the contract every adapter satisfies. It performs exactly one
// synchronous completion call; retry, rate limiting, and circuit breaking are
// layered around it by the Rate-Limited Caller (SPEC_FULL.md §4.2), not
// inside the adapter itself.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
