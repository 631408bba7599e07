package plan

import (
	"reflect"
	"testing"

	"github.com/arbiterlab/arbiter/internal/config"
)

func testConfig() *config.ResolvedConfig {
	half := 0.5
	minV, maxV := 0.0, 1.0
	return &config.ResolvedConfig{
		Run: config.RunConfig{Seed: 42},
		Sampling: config.SamplingConfig{
			Models: []config.WeightedModel{
				{Slug: "openai/gpt-4o-mini", Weight: 1},
				{Slug: "anthropic/claude-sonnet-4-5", Weight: 2},
			},
			Personas: []config.WeightedPersona{
				{ID: "neutral", Weight: 1},
				{ID: "skeptic", Weight: 1},
			},
			Protocols: []string{"independent"},
			Decode: map[string]config.DecodeParamConfig{
				"temperature": {Min: &minV, Max: &maxV},
				"top_p":       {Scalar: &half},
			},
		},
		Protocol: config.ProtocolConfig{Type: "independent"},
		Execution: config.ExecutionConfig{
			KMax: 20,
			KMin: 5,
		},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	r1, err := Build(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := Build(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1.PlanSHA256 != r2.PlanSHA256 {
		t.Fatalf("plan_sha256 differs across identical configs: %s vs %s", r1.PlanSHA256, r2.PlanSHA256)
	}
	for i := range r1.Entries {
		if !reflect.DeepEqual(r1.Entries[i].AssignedConfig, r2.Entries[i].AssignedConfig) {
			t.Fatalf("entry %d differs across identical configs", i)
		}
	}
}

func TestBuildProducesAscendingTrialIDs(t *testing.T) {
	r, err := Build(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(r.Entries))
	}
	for i, e := range r.Entries {
		if e.TrialID != i {
			t.Fatalf("expected trial_id %d, got %d", i, e.TrialID)
		}
	}
}

func TestBuildDifferentSeedsDiverge(t *testing.T) {
	cfgA := testConfig()
	cfgB := testConfig()
	cfgB.Run.Seed = 43

	ra, err := Build(cfgA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rb, err := Build(cfgB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ra.PlanSHA256 == rb.PlanSHA256 {
		t.Fatal("expected different seeds to produce different plan hashes")
	}
}

func TestBuildDecodeScalarIsFixed(t *testing.T) {
	r, err := Build(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range r.Entries {
		if e.AssignedConfig.Decode["top_p"] != 0.5 {
			t.Fatalf("expected fixed scalar top_p=0.5, got %v", e.AssignedConfig.Decode["top_p"])
		}
		temp := e.AssignedConfig.Decode["temperature"]
		if temp < 0 || temp > 1 {
			t.Fatalf("expected temperature sampled in [0,1], got %v", temp)
		}
	}
}

func TestBuildDebateProtocolAssignsRolesInAlphabeticOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling.Protocols = []string{"debate_v1"}
	cfg.Protocol.Type = "debate_v1"
	cfg.Protocol.Participants = []string{"B", "A"}

	r, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range r.Entries {
		if len(e.RoleAssignments) != 2 {
			t.Fatalf("expected 2 role assignments, got %d", len(e.RoleAssignments))
		}
		if e.RoleAssignments[0].Slot != "A" || e.RoleAssignments[1].Slot != "B" {
			t.Fatalf("expected slots in order A,B; got %q,%q", e.RoleAssignments[0].Slot, e.RoleAssignments[1].Slot)
		}
	}
}

func TestBuildKMaxZeroProducesEmptyPlan(t *testing.T) {
	cfg := testConfig()
	cfg.Execution.KMax = 0
	r, err := Build(cfg)
	if err != nil {
		t.Fatalf("unexpected error for k_max=0: %v", err)
	}
	if len(r.Entries) != 0 {
		t.Fatalf("expected an empty plan, got %d entries", len(r.Entries))
	}
	if r.PlanSHA256 == "" {
		t.Fatal("expected a plan_sha256 even for an empty plan")
	}
}

func TestBuildRejectsEmptyModels(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling.Models = nil
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error for empty models list")
	}
}

func TestBuildRejectsAllNonPositiveWeights(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling.Models = []config.WeightedModel{{Slug: "m", Weight: 0}}
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error when no model has positive weight")
	}
}
