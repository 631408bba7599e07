// Package backendhttp implements backend.Backend against real provider
// HTTP APIs, routing a chat request to the adapter matching its model
// slug's provider prefix. Grounded on the teacher's internal/llm.Client
// (internal/llm/client.go) registration/routing pattern, trimmed of its
// middleware chain and streaming surface.
package backendhttp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/providerspec"
)

// ChatAdapter serves backend.ChatRequest for one provider.
type ChatAdapter interface {
	Name() string
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error)
}

// EmbedAdapter serves backend.EmbedRequest. Arbiter routes all embedding
// calls through a single configured adapter (measurement.embedding_model
// is provider-specific only in the model name, not per-trial).
type EmbedAdapter interface {
	Embed(ctx context.Context, req backend.EmbedRequest) (backend.EmbedResponse, error)
}

// Client dispatches Chat by provider prefix of the model slug
// ("openai/gpt-4o-mini" -> provider "openai") and Embed to a single
// configured embedding adapter.
type Client struct {
	chatAdapters map[string]ChatAdapter
	embedAdapter EmbedAdapter
}

func NewClient() *Client {
	return &Client{chatAdapters: map[string]ChatAdapter{}}
}

func (c *Client) RegisterChat(a ChatAdapter) {
	if c.chatAdapters == nil {
		c.chatAdapters = map[string]ChatAdapter{}
	}
	c.chatAdapters[a.Name()] = a
}

func (c *Client) SetEmbedAdapter(a EmbedAdapter) {
	c.embedAdapter = a
}

func (c *Client) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	provider := providerFromSlug(req.Model)
	if provider == "" {
		return backend.ChatResponse{}, &backend.ConfigurationError{Message: fmt.Sprintf("cannot determine provider for model slug %q", req.Model)}
	}
	adapter, ok := c.chatAdapters[provider]
	if !ok {
		return backend.ChatResponse{}, &backend.ConfigurationError{Message: fmt.Sprintf("no chat adapter registered for provider %q", provider)}
	}
	start := time.Now()
	resp, err := adapter.Chat(ctx, req)
	if err == nil && resp.LatencyMS == 0 {
		resp.LatencyMS = time.Since(start).Milliseconds()
	}
	return resp, err
}

func (c *Client) Embed(ctx context.Context, req backend.EmbedRequest) (backend.EmbedResponse, error) {
	if c.embedAdapter == nil {
		return backend.EmbedResponse{}, &backend.ConfigurationError{Message: "no embedding adapter configured"}
	}
	start := time.Now()
	resp, err := c.embedAdapter.Embed(ctx, req)
	if err == nil && resp.LatencyMS == 0 {
		resp.LatencyMS = time.Since(start).Milliseconds()
	}
	return resp, err
}

func providerFromSlug(slug string) string {
	parts := strings.SplitN(strings.TrimSpace(slug), "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return providerspec.CanonicalProviderKey(parts[0])
}
