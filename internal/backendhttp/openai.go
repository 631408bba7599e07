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

// OpenAIAdapter serves chat and embeddings against the OpenAI-compatible
// Chat Completions + Embeddings REST surface. Grounded on the teacher's
// internal/llm/providers/openai adapter, trimmed to non-streaming,
// tool-free chat plus the embeddings endpoint the teacher never called.
type OpenAIAdapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewOpenAIFromEnv() (*OpenAIAdapter, error) {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return NewOpenAI("openai", key, os.Getenv("OPENAI_BASE_URL")), nil
}

func NewOpenAI(provider, apiKey, baseURL string) *OpenAIAdapter {
	p := providerspec.CanonicalProviderKey(provider)
	if p == "" {
		p = "openai"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	return &OpenAIAdapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		Client:   &http.Client{Timeout: 0},
	}
}

func (a *OpenAIAdapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "openai"
}

func (a *OpenAIAdapter) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Text})
	}

	body := map[string]any{
		"model":    relativeModelID(a.Name(), req.Model),
		"messages": messages,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if v, ok := req.ProviderOptions[a.Name()].(map[string]any); ok {
		for k, val := range v {
			body[k] = val
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return backend.ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return backend.ChatResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
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
		return backend.ChatResponse{}, backend.ErrorFromHTTPStatus(a.Name(), resp.StatusCode, fmt.Sprintf("chat.completions failed: %v", raw), raw, ra)
	}

	return fromChatCompletion(raw, req.Model, body), nil
}

func (a *OpenAIAdapter) Embed(ctx context.Context, req backend.EmbedRequest) (backend.EmbedResponse, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	body := map[string]any{
		"model": relativeModelID(a.Name(), req.Model),
		"input": req.Text,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return backend.EmbedResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/embeddings", bytes.NewReader(b))
	if err != nil {
		return backend.EmbedResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return backend.EmbedResponse{}, backend.NewRequestTimeoutError(a.Name(), ctx.Err().Error())
		}
		return backend.EmbedResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var raw struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string `json:"model"`
		ID    string `json:"id"`
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errRaw map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errRaw)
		ra := backend.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return backend.EmbedResponse{}, backend.ErrorFromHTTPStatus(a.Name(), resp.StatusCode, fmt.Sprintf("embeddings failed: %v", errRaw), errRaw, ra)
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return backend.EmbedResponse{}, err
	}
	if len(raw.Data) == 0 {
		return backend.EmbedResponse{}, fmt.Errorf("backendhttp: empty embeddings response")
	}
	vec := make([]float32, len(raw.Data[0].Embedding))
	for i, f := range raw.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return backend.EmbedResponse{Vector: vec, Model: req.Model, GenerationID: raw.ID}, nil
}

func fromChatCompletion(raw map[string]any, requestedModel string, requestPayload any) backend.ChatResponse {
	resp := backend.ChatResponse{ActualModel: requestedModel, RequestPayload: requestPayload, ResponseBody: raw}
	if m, _ := raw["model"].(string); m != "" {
		resp.ActualModel = m
	}
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if c0, ok := choices[0].(map[string]any); ok {
			if msg, ok := c0["message"].(map[string]any); ok {
				if txt, ok := msg["content"].(string); ok {
					resp.Text = txt
				}
			}
		}
	}
	if u, ok := raw["usage"].(map[string]any); ok {
		resp.Usage = backend.Usage{
			PromptTokens:     getInt(u["prompt_tokens"]),
			CompletionTokens: getInt(u["completion_tokens"]),
			TotalTokens:      getInt(u["total_tokens"]),
		}
	}
	return resp
}

func getInt(v any) int {
	switch x := v.(type) {
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	case float64:
		return int(x)
	case int:
		return x
	default:
		return 0
	}
}

// relativeModelID strips the "provider/" prefix Arbiter uses to route
// requests, since the wire API expects the bare upstream model name.
func relativeModelID(provider, slug string) string {
	slug = strings.TrimSpace(slug)
	prefix := provider + "/"
	if strings.HasPrefix(strings.ToLower(slug), prefix) {
		return slug[len(prefix):]
	}
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return slug
}
