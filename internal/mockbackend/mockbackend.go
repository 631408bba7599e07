// Package mockbackend implements backend.Backend deterministically, for
// running an Arbiter measurement without live provider credentials.
// Chat text is a pure function of the request's model and messages, and
// embedding vectors of the embed text alone — not of call order or
// wall-clock time — so two trials with
// the same assigned_config produce bit-identical chat text and
// embedding vectors. That determinism is what lets the enforcer-stop
// scenario converge on a mock run.
//
// Grounded on internal/rngstream for the seeded-hash sampling pattern
// and internal/vecmath for vector normalization, both already built for
// the Planner and Clustering Monitor.
package mockbackend

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/rngstream"
)

// EmptyEmbedEnvVar, when set to a non-empty value, forces every chat
// outcome to the empty string so embed_text derives to empty and the
// executor records embedding_status=skipped(empty_embed_text).
const EmptyEmbedEnvVar = "ARBITER_MOCK_EMPTY_EMBED"

var outcomePool = []string{"agree", "disagree", "uncertain"}

// Backend is a deterministic stand-in for a live provider.
type Backend struct {
	// Dimensions is the embedding vector length this mock produces.
	Dimensions int
}

// New returns a mock backend with the default embedding dimensionality.
func New() *Backend {
	return &Backend{Dimensions: 32}
}

func (b *Backend) dims() int {
	if b.Dimensions > 0 {
		return b.Dimensions
	}
	return 32
}

// Chat returns a deterministic outcome/rationale pair encoded as JSON
// text, keyed on the request's model and message content so identical
// assigned_configs reproduce identical text.
func (b *Backend) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	select {
	case <-ctx.Done():
		return backend.ChatResponse{}, backend.NewRequestTimeoutError("mock", ctx.Err().Error())
	default:
	}

	key := chatKey(req)
	stream := rngstream.New(key, "mock-chat", 0)

	if strings.TrimSpace(os.Getenv(EmptyEmbedEnvVar)) != "" {
		text := `{"outcome":"","rationale":""}`
		return backend.ChatResponse{
			ActualModel:    req.Model,
			Text:           text,
			RequestPayload: req,
			Usage:          backend.Usage{PromptTokens: promptTokenEstimate(req), CompletionTokens: 4, TotalTokens: promptTokenEstimate(req) + 4},
		}, nil
	}

	outcome := outcomePool[stream.WeightedIndex(equalWeights(len(outcomePool)))]
	rationale := fmt.Sprintf("mock rationale %d for %s", int(stream.Uniform(0, 1000)), req.Model)
	text := fmt.Sprintf(`{"outcome":%q,"rationale":%q}`, outcome, rationale)

	return backend.ChatResponse{
		ActualModel:    req.Model,
		Text:           text,
		RequestPayload: req,
		Usage:          backend.Usage{PromptTokens: promptTokenEstimate(req), CompletionTokens: len(text) / 4, TotalTokens: promptTokenEstimate(req) + len(text)/4},
	}, nil
}

// Embed returns a deterministic unit-norm vector keyed on req.Text only;
// req.Model is echoed back and names the GenerationID. An empty text is a caller error — the executor should have
// already classified it as skipped(empty_embed_text) before calling.
func (b *Backend) Embed(ctx context.Context, req backend.EmbedRequest) (backend.EmbedResponse, error) {
	select {
	case <-ctx.Done():
		return backend.EmbedResponse{}, backend.NewRequestTimeoutError("mock", ctx.Err().Error())
	default:
	}
	if strings.TrimSpace(req.Text) == "" {
		return backend.EmbedResponse{}, &backend.ConfigurationError{Message: "mockbackend: Embed called with empty text"}
	}

	n := b.dims()
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		s := rngstream.New(req.Text, "mock-embed", i)
		vec[i] = float32(s.Uniform(-1, 1))
	}
	normalize(vec)

	return backend.EmbedResponse{
		Vector:       vec,
		Model:        req.Model,
		GenerationID: fmt.Sprintf("mock-%s", req.Model),
	}, nil
}

func chatKey(req backend.ChatRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Model)
	for _, m := range req.Messages {
		sb.WriteByte('|')
		sb.WriteString(m.Role)
		sb.WriteByte(':')
		sb.WriteString(m.Text)
	}
	return sb.String()
}

func promptTokenEstimate(req backend.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Text) / 4
	}
	return total
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
