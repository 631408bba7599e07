package config

import "testing"

func validConfig() ResolvedConfig {
	return ResolvedConfig{
		Run:      RunConfig{Seed: 42},
		Question: QuestionConfig{Text: "what is the capital of France?"},
		Sampling: SamplingConfig{
			Models:   []WeightedModel{{Slug: "m1", Weight: 1}},
			Personas: []WeightedPersona{{ID: "p1", Weight: 1}},
		},
		Protocol: ProtocolConfig{Type: "independent"},
		Execution: ExecutionConfig{
			KMax: 10, BatchSize: 2, Workers: 2, StopMode: "disabled",
			StopPolicy: StopPolicyConfig{Patience: 1},
		},
		Measurement: MeasurementConfig{
			EmbedTextStrategy: "outcome_only",
			EmbeddingMaxChars: 500,
		},
		Output: OutputConfig{RunsDir: "/tmp/runs"},
	}
}

func TestValidConfigPasses(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestZeroWeightModelsRejected(t *testing.T) {
	c := validConfig()
	c.Sampling.Models = []WeightedModel{{Slug: "m1", Weight: 0}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for all-zero-weight models")
	}
}

func TestBadProtocolTypeRejected(t *testing.T) {
	c := validConfig()
	c.Protocol.Type = "bogus"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for bad protocol type")
	}
}

func TestDebateRequiresRoundsAndParticipants(t *testing.T) {
	c := validConfig()
	c.Protocol.Type = "debate_v1"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for debate_v1 without rounds/participants")
	}
}

func TestKMaxZeroIsValid(t *testing.T) {
	c := validConfig()
	c.Execution.KMax = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("k_max=0 should be valid (empty plan), got %v", err)
	}
}
