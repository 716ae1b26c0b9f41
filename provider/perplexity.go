package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/brandpulse/geoaudit/pipeline/perr"
)

// Perplexity adapts the OpenAI-compatible chat completions endpoint
// Perplexity exposes. Reuses the OpenAI wire shape, since Perplexity's API
// is a documented drop-in compatible surface, but keeps its own error
// mapping since rate-limit and quota wording differs.
type Perplexity struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewPerplexity(apiKey, baseURL, model string) *Perplexity {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	if model == "" {
		model = "sonar-pro"
	}
	return &Perplexity{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *Perplexity) Name() string { return "perplexity" }

func (p *Perplexity) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var messages []openAIMessage
	if req.SystemText != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemText})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "encode_request", err.Error()).WithProvider(p.Name())
	}

	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "build_request", err.Error()).WithProvider(p.Name())
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, perr.New(perr.KindTransient, "transport_error", err.Error()).WithProvider(p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapPerplexityError(resp.StatusCode, readOpenAIErrMsg(resp.Body), p.Name())
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, perr.New(perr.KindTransient, "decode_response", err.Error()).WithProvider(p.Name()).WithCause(err)
	}
	if len(out.Choices) == 0 {
		return nil, perr.New(perr.KindTransient, "empty_choices", "provider returned no choices").WithProvider(p.Name())
	}

	choice := out.Choices[0]
	if choice.FinishReason == "length" && strings.TrimSpace(choice.Message.Content) == "" {
		return nil, perr.New(perr.KindTransient, "truncated_empty", "response truncated at max_tokens with no content").WithProvider(p.Name())
	}

	return &Response{
		Text:         choice.Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Latency:      latency,
	}, nil
}

func mapPerplexityError(status int, msg, provider string) *perr.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// SPEC_FULL.md §7 groups auth/billing failures under quota, so they are
		// retried by the caller's retry loop rather than treated as a
		// non-retryable malformed request.
		return perr.New(perr.KindQuota, "auth_error", msg).WithProvider(provider)
	case http.StatusTooManyRequests:
		return perr.New(perr.KindTransient, "rate_limited", msg).WithProvider(provider)
	case http.StatusBadRequest:
		return perr.New(perr.KindPermanent, "invalid_request", msg).WithProvider(provider)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return perr.New(perr.KindTransient, "upstream_unavailable", msg).WithProvider(provider)
	default:
		if status >= 500 {
			return perr.New(perr.KindTransient, "upstream_error", msg).WithProvider(provider)
		}
		return perr.New(perr.KindPermanent, "client_error", msg).WithProvider(provider)
	}
}
