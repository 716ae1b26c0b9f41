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

// OpenAI adapts the Chat Completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI constructs an OpenAI adapter.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		model = "gpt-4o-mini"
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

	endpoint := p.baseURL + "/v1/chat/completions"
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
		return nil, mapOpenAIError(resp.StatusCode, readOpenAIErrMsg(resp.Body), p.Name())
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

func readOpenAIErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er openAIErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return fmt.Sprintf("%s (%s)", er.Error.Message, er.Error.Type)
	}
	return string(data)
}

func mapOpenAIError(status int, msg, provider string) *perr.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// SPEC_FULL.md §7 groups auth/billing failures under quota, so they are
		// retried by the caller's retry loop rather than treated as a
		// non-retryable malformed request.
		return perr.New(perr.KindQuota, "auth_error", msg).WithProvider(provider)
	case http.StatusTooManyRequests:
		return perr.New(perr.KindTransient, "rate_limited", msg).WithProvider(provider)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "quota") || strings.Contains(strings.ToLower(msg), "billing") {
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
