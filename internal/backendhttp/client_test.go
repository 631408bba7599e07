package backendhttp

import (
	"context"
	"testing"

	"github.com/arbiterlab/arbiter/internal/backend"
)

type stubChatAdapter struct{ name string }

func (s *stubChatAdapter) Name() string { return s.name }
func (s *stubChatAdapter) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	return backend.ChatResponse{ActualModel: req.Model, Text: "ok"}, nil
}

func TestClientRoutesByProviderPrefix(t *testing.T) {
	c := NewClient()
	c.RegisterChat(&stubChatAdapter{name: "openai"})
	c.RegisterChat(&stubChatAdapter{name: "anthropic"})

	resp, err := c.Chat(context.Background(), backend.ChatRequest{Model: "anthropic/claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("expected routed adapter response, got %q", resp.Text)
	}
}

func TestClientUnknownProviderIsConfigurationError(t *testing.T) {
	c := NewClient()
	_, err := c.Chat(context.Background(), backend.ChatRequest{Model: "nope/does-not-exist"})
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	var cfgErr *backend.ConfigurationError
	if _, ok := err.(*backend.ConfigurationError); !ok {
		t.Fatalf("expected *backend.ConfigurationError, got %T: %v", err, err)
	}
	_ = cfgErr
}

func TestRelativeModelIDStripsProviderPrefix(t *testing.T) {
	if got := relativeModelID("openai", "openai/gpt-4o-mini"); got != "gpt-4o-mini" {
		t.Fatalf("got %q", got)
	}
	if got := relativeModelID("openai", "gpt-4o-mini"); got != "gpt-4o-mini" {
		t.Fatalf("got %q", got)
	}
}
