// Package backend defines the unified chat/embed contract trial
// execution drives against, independent of which provider ultimately
// serves a model slug.
//
// Grounded on the teacher's internal/llm package (internal/llm/client.go,
// internal/llm/errors.go): same "pure async function + typed error
// hierarchy" shape, trimmed to the two verbs the run loop needs — no
// tool calling, no streaming, since trials exchange plain text turns.
package backend

import "context"

// Message is one turn in a chat request.
type Message struct {
	Role string
	Text string
}

// RetryOptions carries the per-call retry budget the executor has
// already computed; adapters surface it in RequestPayload for audit but
// the retry loop itself lives in internal/protocol, not here.
type RetryOptions struct {
	MaxRetries int
}

// ChatRequest is one call to a chat-capable model.
type ChatRequest struct {
	Model           string
	Messages        []Message
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	ProviderOptions map[string]any
	Retry           RetryOptions
}

// Usage reports token accounting for one call, when the provider supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          *float64
}

// ChatResponse is the successful outcome of a Chat call.
type ChatResponse struct {
	ActualModel    string
	Text           string
	RequestPayload any
	ResponseBody   any
	Usage          Usage
	LatencyMS      int64
	RetryCount     int
}

// EmbedRequest asks for a single embedding vector.
type EmbedRequest struct {
	Model string
	Text  string
	Retry RetryOptions
}

// EmbedResponse is the successful outcome of an Embed call.
type EmbedResponse struct {
	Vector       []float32
	Model        string
	GenerationID string
	LatencyMS    int64
	RetryCount   int
}

// Backend is the contract the Trial Executor drives. Implementations
// (internal/mockbackend, internal/backendhttp) never retry internally —
// a failed call returns a Backend error and the protocol runner's retry
// loop (internal/protocol) decides whether to call again.
type Backend interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
}
