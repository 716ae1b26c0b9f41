package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brandpulse/geoaudit/pipeline/perr"
)

// Anthropic adapts the Messages API. Grounded on the teacher's
// providers/anthropic adapter: x-api-key header auth (not Bearer), a
// required max_tokens, and a distinct 529 "overloaded" status code.
type Anthropic struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096 // Anthropic requires a max_tokens value
	}

	body := anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:      req.SystemText,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "encode_request", err.Error()).WithProvider(p.Name())
	}

	endpoint := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "build_request", err.Error()).WithProvider(p.Name())
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, perr.New(perr.KindTransient, "transport_error", err.Error()).WithProvider(p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapAnthropicError(resp.StatusCode, readAnthropicErrMsg(resp.Body), p.Name())
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, perr.New(perr.KindTransient, "decode_response", err.Error()).WithProvider(p.Name()).WithCause(err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if out.StopReason == "max_tokens" && text.Len() == 0 {
		return nil, perr.New(perr.KindTransient, "truncated_empty", "response truncated at max_tokens with no content").WithProvider(p.Name())
	}

	return &Response{
		Text:         text.String(),
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Latency:      latency,
	}, nil
}

func readAnthropicErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er anthropicErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return fmt.Sprintf("%s (%s)", er.Error.Message, er.Error.Type)
	}
	return string(data)
}

func mapAnthropicError(status int, msg, provider string) *perr.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// SPEC_FULL.md §7 groups auth/billing failures under quota, so they are
		// retried by the caller's retry loop rather than treated as a
		// non-retryable malformed request.
		return perr.New(perr.KindQuota, "auth_error", msg).WithProvider(provider)
	case http.StatusTooManyRequests:
		return perr.New(perr.KindTransient, "rate_limited", msg).WithProvider(provider)
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "credit") || strings.Contains(lower, "quota") {
			return perr.New(perr.KindQuota, "quota_exceeded", msg).WithProvider(provider)
		}
		return perr.New(perr.KindPermanent, "invalid_request", msg).WithProvider(provider)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return perr.New(perr.KindTransient, "upstream_unavailable", msg).WithProvider(provider)
	case 529:
		return perr.New(perr.KindTransient, "model_overloaded", msg).WithProvider(provider)
	default:
		if status >= 500 {
			return perr.New(perr.KindTransient, "upstream_error", msg).WithProvider(provider)
		}
		return perr.New(perr.KindPermanent, "client_error", msg).WithProvider(provider)
	}
}
