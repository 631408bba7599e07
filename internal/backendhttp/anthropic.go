package backendhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/providerspec"
)

// AnthropicAdapter serves chat against the Messages API. Grounded on the
// teacher's internal/llm/providers/anthropic adapter, trimmed to plain
// text turns (no tool use, no prompt caching, no forced-stream policy).
type AnthropicAdapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewAnthropicFromEnv() (*AnthropicAdapter, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return NewAnthropic("anthropic", key, os.Getenv("ANTHROPIC_BASE_URL")), nil
}

func NewAnthropic(provider, apiKey, baseURL string) *AnthropicAdapter {
	p := providerspec.CanonicalProviderKey(provider)
	if p == "" {
		p = "anthropic"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		Client:   &http.Client{Timeout: 0},
	}
}

func (a *AnthropicAdapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "anthropic"
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	var system string
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.EqualFold(m.Role, "system") {
			if system != "" {
				system += "\n\n"
			}
			system += m.Text
			continue
		}
		messages = append(messages, map[string]any{
			"role":    m.Role,
			"content": []map[string]any{{"type": "text", "text": m.Text}},
		})
	}

	maxTokens := 4096
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	body := map[string]any{
		"model":      relativeModelID(a.Name(), req.Model),
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}

	b, err := json.Marshal(body)
	if err != nil {
		return backend.ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return backend.ChatResponse{}, err
	}
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return backend.ChatResponse{}, backend.NewRequestTimeoutError(a.Name(), ctx.Err().Error())
		}
		return backend.ChatResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var raw map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return backend.ChatResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := backend.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return backend.ChatResponse{}, backend.ErrorFromHTTPStatus(a.Name(), resp.StatusCode, fmt.Sprintf("messages.create failed: %v", raw), raw, ra)
	}

	return fromAnthropicMessage(raw, req.Model, body), nil
}

func fromAnthropicMessage(raw map[string]any, requestedModel string, requestPayload any) backend.ChatResponse {
	resp := backend.ChatResponse{ActualModel: requestedModel, RequestPayload: requestPayload, ResponseBody: raw}
	if m, _ := raw["model"].(string); m != "" {
		resp.ActualModel = m
	}
	if content, ok := raw["content"].([]any); ok {
		var sb strings.Builder
		for _, partAny := range content {
			part, ok := partAny.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" {
				if txt, _ := part["text"].(string); txt != "" {
					sb.WriteString(txt)
				}
			}
		}
		resp.Text = sb.String()
	}
	if u, ok := raw["usage"].(map[string]any); ok {
		resp.Usage = backend.Usage{
			PromptTokens:     getInt(u["input_tokens"]),
			CompletionTokens: getInt(u["output_tokens"]),
			TotalTokens:      getInt(u["input_tokens"]) + getInt(u["output_tokens"]),
		}
	}
	return resp
}
