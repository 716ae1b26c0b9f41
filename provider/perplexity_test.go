package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandpulse/geoaudit/pipeline/perr"
)

func TestPerplexity_NameAndDefaults(t *testing.T) {
	p := NewPerplexity("key", "", "")
	assert.Equal(t, "perplexity", p.Name())
	assert.Equal(t, "sonar-pro", p.model)
	assert.Equal(t, "https://api.perplexity.ai", p.baseURL)
}

func TestPerplexity_Complete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer with citations"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":8}}`))
	}))
	defer srv.Close()

	p := NewPerplexity("k", srv.URL, "sonar-pro")
	resp, err := p.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer with citations", resp.Text)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 8, resp.OutputTokens)
}

func TestPerplexity_Complete_EmptyChoicesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewPerplexity("k", srv.URL, "")
	_, err := p.Complete(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, perr.KindTransient, perr.KindOf(err))
}

func TestMapPerplexityError(t *testing.T) {
	tests := []struct {
		status int
		want   perr.Kind
	}{
		{http.StatusUnauthorized, perr.KindQuota},
		{http.StatusTooManyRequests, perr.KindTransient},
		{http.StatusBadRequest, perr.KindPermanent},
		{http.StatusBadGateway, perr.KindTransient},
		{http.StatusInternalServerError, perr.KindTransient},
	}
	for _, tt := range tests {
		got := mapPerplexityError(tt.status, "msg", "perplexity")
		assert.Equal(t, tt.want, got.Kind, "status=%d", tt.status)
	}
}
