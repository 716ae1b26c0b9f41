// Package perr defines the error-kind taxonomy shared across the audit
// pipeline (SPEC_FULL.md §7): transient, permanent, quota, data, fatal. Call
// sites branch on Kind, never on substring-matching an error message.
package perr

import "fmt"

// Kind classifies an error for retry/propagation purposes.
type Kind string

const (
	// KindTransient covers network blips, 5xx responses, and rate limiting;
	// the caller should retry with backoff.
	KindTransient Kind = "transient"
	// KindPermanent covers malformed requests and content-policy rejections;
	// never retried.
	KindPermanent Kind = "permanent"
	// KindQuota covers auth/billing failures; retry.Do retries them with the
	// same backoff as KindTransient. Nothing fails the provider for the rest
	// of the audit after repeated quota errors.
	KindQuota Kind = "quota"
	// KindData covers JSON schema mismatches from an LLM reply; handling is
	// caller-dependent (see SPEC_FULL.md §7).
	KindData Kind = "data"
	// KindFatal covers DB unavailability and missing configuration; aborts
	// the whole audit.
	KindFatal Kind = "fatal"
)

// Error is the single structured error type used across the pipeline.
type Error struct {
	Kind     Kind
	Code     string
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's Kind is ever worth retrying.
// KindData is intentionally excluded: whether a data error is retried is a
// caller decision (Query Generator retries once, Analyzer does not), not an
// intrinsic property of the error.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindQuota:
		return true
	default:
		return false
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithProvider attaches the originating provider id.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// KindOf extracts the Kind from err, defaulting to KindPermanent for errors
// not produced by this package (never silently retry an unrecognized error).
func KindOf(err error) Kind {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Kind
	}
	return KindPermanent
}

// IsRetryable reports whether err, if it is a *Error, is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable()
	}
	return false
}
