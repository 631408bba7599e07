package protocol

import (
	"context"
	"testing"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/mockbackend"
	"github.com/arbiterlab/arbiter/internal/record"
)

func baseConfig() *config.ResolvedConfig {
	return &config.ResolvedConfig{
		Protocol: config.ProtocolConfig{
			Type:    "independent",
			Rounds:  1,
			Prompts: map[string]string{"system": "Answer the question directly."},
			Timeouts: config.TimeoutsConfig{
				TotalTrialMS:      30_000,
				PerCallMS:         10_000,
				PerCallMaxRetries: 2,
			},
		},
		Execution: config.ExecutionConfig{
			RetryPolicy: config.RetryPolicyConfig{MaxRetries: 2, BackoffMS: 1},
		},
	}
}

func TestIndependentProtocolSucceeds(t *testing.T) {
	r := &Runner{Backend: mockbackend.New(), RunID: "run-1"}
	entry := record.PlanEntry{
		TrialID:  0,
		Protocol: "independent",
		AssignedConfig: record.AssignedConfig{
			ModelSlug: "openai/gpt-4o-mini",
			PersonaID: "neutral",
		},
	}
	outcome := r.Run(context.Background(), entry, baseConfig(), "Is the sky blue?")
	if outcome.Status != record.TrialSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Status, outcome.Error)
	}
	if len(outcome.Calls) != 1 {
		t.Fatalf("expected exactly one call for independent protocol, got %d", len(outcome.Calls))
	}
	if outcome.RawAssistantText == "" {
		t.Fatal("expected non-empty raw_assistant_text")
	}
}

func TestDebateProtocolProducesOrderedTranscriptAndFinalBySlotA(t *testing.T) {
	cfg := baseConfig()
	cfg.Protocol.Type = "debate_v1"
	cfg.Protocol.Rounds = 2
	cfg.Protocol.Prompts["proposer_system"] = "Propose an answer."
	cfg.Protocol.Prompts["critic_system"] = "Critique the proposal."
	cfg.Protocol.Prompts["proposer_final_system"] = "Give the final answer."

	r := &Runner{Backend: mockbackend.New(), RunID: "run-2"}
	entry := record.PlanEntry{
		TrialID:  1,
		Protocol: "debate_v1",
		AssignedConfig: record.AssignedConfig{
			ModelSlug: "openai/gpt-4o-mini",
			PersonaID: "neutral",
		},
		RoleAssignments: []record.RoleAssignment{
			{Slot: "B", ModelSlug: "anthropic/claude-sonnet-4-5", PersonaID: "skeptic"},
			{Slot: "A", ModelSlug: "openai/gpt-4o-mini", PersonaID: "neutral"},
		},
	}

	outcome := r.Run(context.Background(), entry, cfg, "Should we ship the feature?")
	if outcome.Status != record.TrialSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Status, outcome.Error)
	}
	// 2 rounds x 2 slots + 1 final call = 5 calls.
	if len(outcome.Calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(outcome.Calls))
	}
	if outcome.Calls[0].Slot != "A" || outcome.Calls[1].Slot != "B" {
		t.Fatalf("expected slot A before slot B in round 1, got %q then %q", outcome.Calls[0].Slot, outcome.Calls[1].Slot)
	}
	if !outcome.Calls[len(outcome.Calls)-1].Final {
		t.Fatal("expected last call marked final")
	}
	if len(outcome.Transcript) != 4 {
		t.Fatalf("expected 4 transcript turns (2 rounds x 2 slots), got %d", len(outcome.Transcript))
	}
	for i, turn := range outcome.Transcript {
		if turn.Turn != i+1 {
			t.Fatalf("expected strictly increasing turn numbers, got %d at index %d", turn.Turn, i)
		}
	}
}

func TestDebateWithoutRoleAssignmentsIsConfigError(t *testing.T) {
	cfg := baseConfig()
	cfg.Protocol.Type = "debate_v1"
	r := &Runner{Backend: mockbackend.New(), RunID: "run-3"}
	entry := record.PlanEntry{TrialID: 2, Protocol: "debate_v1"}
	outcome := r.Run(context.Background(), entry, cfg, "question")
	if outcome.Status != record.TrialStatusError {
		t.Fatalf("expected TrialStatusError, got %v", outcome.Status)
	}
}

func TestCallWithRetryReturnsModelUnavailable(t *testing.T) {
	r := &Runner{Backend: failingBackend{}, RunID: "run-4"}
	entry := record.PlanEntry{
		TrialID:        3,
		Protocol:       "independent",
		AssignedConfig: record.AssignedConfig{ModelSlug: "openai/does-not-exist", PersonaID: "neutral"},
	}
	outcome := r.Run(context.Background(), entry, baseConfig(), "question")
	if outcome.Status != record.TrialModelUnavailable {
		t.Fatalf("expected model_unavailable, got %v", outcome.Status)
	}
}

type failingBackend struct{}

func (failingBackend) Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error) {
	return backend.ChatResponse{}, backend.ErrorFromHTTPStatus("openai", 404, "model not found", nil, nil)
}

func (failingBackend) Embed(ctx context.Context, req backend.EmbedRequest) (backend.EmbedResponse, error) {
	return backend.EmbedResponse{}, nil
}
