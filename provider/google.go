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

// Google adapts the Gemini generateContent API. Auth is a query-string API
// key rather than a header, and usage is reported under usageMetadata.
type Google struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGoogle(apiKey, baseURL, model string) *Google {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &Google{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *Google) Name() string { return "google" }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleRequest struct {
	Contents          []googleContent         `json:"contents"`
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type googleResponse struct {
	Candidates    []googleCandidate   `json:"candidates"`
	UsageMetadata googleUsageMetadata `json:"usageMetadata"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Google) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := googleRequest{
		Contents: []googleContent{{Role: "user", Parts: []googlePart{{Text: req.Prompt}}}},
	}
	if req.SystemText != "" {
		body.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.SystemText}}}
	}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		body.GenerationConfig = &googleGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "encode_request", err.Error()).WithProvider(p.Name())
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, perr.New(perr.KindPermanent, "build_request", err.Error()).WithProvider(p.Name())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, perr.New(perr.KindTransient, "transport_error", err.Error()).WithProvider(p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapGoogleError(resp.StatusCode, readGoogleErrMsg(resp.Body), p.Name())
	}

	var out googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, perr.New(perr.KindTransient, "decode_response", err.Error()).WithProvider(p.Name()).WithCause(err)
	}
	if len(out.Candidates) == 0 {
		return nil, perr.New(perr.KindTransient, "empty_candidates", "provider returned no candidates").WithProvider(p.Name())
	}

	candidate := out.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if candidate.FinishReason == "MAX_TOKENS" && text.Len() == 0 {
		return nil, perr.New(perr.KindTransient, "truncated_empty", "response truncated at max output tokens with no content").WithProvider(p.Name())
	}

	return &Response{
		Text:         text.String(),
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		Latency:      latency,
	}, nil
}

func readGoogleErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er googleErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return fmt.Sprintf("%s (%s)", er.Error.Message, er.Error.Status)
	}
	return string(data)
}

func mapGoogleError(status int, msg, provider string) *perr.Error {
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
		if strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") {
			return perr.New(perr.KindQuota, "quota_exceeded", msg).WithProvider(provider)
		}
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
