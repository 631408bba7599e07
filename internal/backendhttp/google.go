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

// GoogleAdapter serves chat against the Generative Language
// generateContent endpoint. Grounded on the teacher's
// internal/llm/providers/google adapter, trimmed to text-only turns.
type GoogleAdapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewGoogleFromEnv() (*GoogleAdapter, error) {
	key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	return NewGoogle("google", key, os.Getenv("GEMINI_BASE_URL")), nil
}

func NewGoogle(provider, apiKey, baseURL string) *GoogleAdapter {
	p := providerspec.CanonicalProviderKey(provider)
	if p == "" {
		p = "google"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	return &GoogleAdapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		Client:   &http.Client{Timeout: 0},
	}
}

func (a *GoogleAdapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "google"
}

func (a *GoogleAdapter) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	var systemParts []map[string]any
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.EqualFold(m.Role, "system") {
			systemParts = append(systemParts, map[string]any{"text": m.Text})
			continue
		}
		role := "user"
		if strings.EqualFold(m.Role, "assistant") {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": m.Text}},
		})
	}

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}

	body := map[string]any{"contents": contents}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{"parts": systemParts}
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	b, err := json.Marshal(body)
	if err != nil {
		return backend.ChatResponse{}, err
	}

	model := relativeModelID(a.Name(), req.Model)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.BaseURL, model, a.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return backend.ChatResponse{}, err
	}
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
		return backend.ChatResponse{}, backend.ErrorFromHTTPStatus(a.Name(), resp.StatusCode, fmt.Sprintf("generateContent failed: %v", raw), raw, ra)
	}

	return fromGenerateContent(raw, req.Model, body), nil
}

func fromGenerateContent(raw map[string]any, requestedModel string, requestPayload any) backend.ChatResponse {
	resp := backend.ChatResponse{ActualModel: requestedModel, RequestPayload: requestPayload, ResponseBody: raw}
	if cands, ok := raw["candidates"].([]any); ok && len(cands) > 0 {
		if c0, ok := cands[0].(map[string]any); ok {
			if content, ok := c0["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					var sb strings.Builder
					for _, pAny := range parts {
						if p, ok := pAny.(map[string]any); ok {
							if t, _ := p["text"].(string); t != "" {
								sb.WriteString(t)
							}
						}
					}
					resp.Text = sb.String()
				}
			}
		}
	}
	if u, ok := raw["usageMetadata"].(map[string]any); ok {
		resp.Usage = backend.Usage{
			PromptTokens:     getInt(u["promptTokenCount"]),
			CompletionTokens: getInt(u["candidatesTokenCount"]),
			TotalTokens:      getInt(u["totalTokenCount"]),
		}
	}
	return resp
}
