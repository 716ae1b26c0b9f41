package perr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorString(t *testing.T) {
	e := New(KindTransient, "timeout", "request timed out")
	assert.Equal(t, "[transient/timeout] request timed out", e.Error())

	e.WithCause(errors.New("dial tcp: i/o timeout"))
	assert.Equal(t, "[transient/timeout] request timed out: dial tcp: i/o timeout", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(KindFatal, "db_down", "database unavailable").WithCause(cause)
	assert.ErrorIs(t, e, cause)
}

func TestError_WithProvider(t *testing.T) {
	e := New(KindQuota, "rate_limited", "over budget").WithProvider("openai")
	assert.Equal(t, "openai", e.Provider)
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransient, true},
		{KindQuota, true},
		{KindPermanent, false},
		{KindData, false},
		{KindFatal, false},
	}
	for _, tt := range tests {
		e := New(tt.kind, "code", "message")
		assert.Equal(t, tt.want, e.Retryable(), "kind=%s", tt.kind)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindQuota, KindOf(New(KindQuota, "c", "m")))
	assert.Equal(t, KindPermanent, KindOf(errors.New("not a perr.Error")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTransient, "c", "m")))
	assert.False(t, IsRetryable(New(KindPermanent, "c", "m")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}
