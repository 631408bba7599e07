package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/mockbackend"
	"github.com/arbiterlab/arbiter/internal/record"
)

func baseConfig(t *testing.T) *config.ResolvedConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.ResolvedConfig{
		Run:      config.RunConfig{Seed: 7},
		Question: config.QuestionConfig{Text: "should we ship it?"},
		Sampling: config.SamplingConfig{
			Models:    []config.WeightedModel{{Slug: "openrouter/model-a", Weight: 1}},
			Personas:  []config.WeightedPersona{{ID: "neutral", Weight: 1}},
			Protocols: []string{"independent"},
		},
		Protocol: config.ProtocolConfig{
			Type:     "independent",
			Timeouts: config.TimeoutsConfig{TotalTrialMS: 2000, PerCallMS: 1000, PerCallMaxRetries: 1},
		},
		Execution: config.ExecutionConfig{
			KMax: 6, KMin: 1, BatchSize: 3, Workers: 2, StopMode: "disabled",
			StopPolicy:  config.StopPolicyConfig{Patience: 1},
			RetryPolicy: config.RetryPolicyConfig{MaxRetries: 1, BackoffMS: 1},
		},
		Measurement: config.MeasurementConfig{
			EmbeddingModel:    "openrouter/embed-a",
			EmbedTextStrategy: "outcome_only",
			EmbeddingMaxChars: 500,
			NoveltyThreshold:  0.2,
		},
		Output: config.OutputConfig{RunsDir: dir},
	}
}

func TestRunCompletesAllTrialsAgainstMockBackend(t *testing.T) {
	cfg := baseConfig(t)
	res, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.KAttempted != cfg.Execution.KMax {
		t.Fatalf("expected k_attempted=%d, got %d", cfg.Execution.KMax, res.Manifest.KAttempted)
	}
	if res.Manifest.Incomplete {
		t.Fatalf("expected a full run to be complete, got %+v", res.Manifest)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, "manifest.json")); err != nil {
		t.Fatalf("expected manifest.json: %v", err)
	}
}

func TestRunForcesEmptyEmbedTextWhenMockOutputIsBlank(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 2
	t.Setenv(mockbackend.EmptyEmbedEnvVar, "1")

	res, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.KEligible != 0 {
		t.Fatalf("expected k_eligible=0 when every trial's embed text is empty, got %d", res.Manifest.KEligible)
	}
}

func TestRunStopsOnUserInterruptBeforeAllTrialsAttempted(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 9
	cfg.Execution.BatchSize = 1
	cfg.Execution.Workers = 1

	interrupted := make(chan struct{})
	close(interrupted)

	res, err := Run(context.Background(), interrupted, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.StopReason != "user_interrupt" {
		t.Fatalf("expected stop_reason=user_interrupt, got %q", res.Manifest.StopReason)
	}
	if !res.Manifest.Incomplete {
		t.Fatalf("expected incomplete=true on user interrupt")
	}
	if res.Manifest.KAttempted != 0 {
		t.Fatalf("expected zero trials attempted when interrupted before the first batch, got %d", res.Manifest.KAttempted)
	}
}

func TestRunEnforcerModeStopsOnConvergence(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 20
	cfg.Execution.KMin = 2
	cfg.Execution.BatchSize = 2
	cfg.Execution.Workers = 2
	cfg.Execution.StopMode = "enforcer"
	cfg.Execution.StopPolicy = config.StopPolicyConfig{NoveltyEpsilon: 1.0, SimilarityThreshold: 0.0, Patience: 1}
	cfg.Measurement.Clustering = config.ClusteringConfig{Enabled: true, Tau: 0.99, CentroidUpdateRule: "running_mean"}

	res, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.KAttempted >= cfg.Execution.KMax {
		t.Fatalf("expected the enforcer to stop before k_max, attempted %d of %d", res.Manifest.KAttempted, cfg.Execution.KMax)
	}
}

func TestRunDecisionContractFailPolicyMarksRunAsError(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 2
	cfg.Protocol.DecisionContract = &config.DecisionContractConfig{Policy: "fail", Clause: "respond with a JSON object"}
	// An empty outcome makes every successful trial a contract parse failure.
	t.Setenv(mockbackend.EmptyEmbedEnvVar, "1")

	res, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.StopReason != "error" || !res.Manifest.Incomplete {
		t.Fatalf("expected stop_reason=error and incomplete=true, got %q incomplete=%v", res.Manifest.StopReason, res.Manifest.Incomplete)
	}
}

func TestRunWritesEmbeddingsFinalizedProvenanceForJSONLFallback(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 2

	res, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Manifest.KEligible == 0 {
		t.Skip("mock backend produced no eligible embeddings for this seed")
	}
	data, err := os.ReadFile(filepath.Join(res.Dir, "embeddings.provenance.json"))
	if err != nil {
		t.Fatalf("expected embeddings.provenance.json: %v", err)
	}
	var prov record.EmbeddingProvenance
	if err := json.Unmarshal(data, &prov); err != nil {
		t.Fatalf("unmarshal provenance: %v", err)
	}
	if prov.Status != "jsonl_fallback" {
		t.Fatalf("expected jsonl_fallback provenance, got %+v", prov)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, "debug", "embeddings.jsonl")); err != nil {
		t.Fatalf("expected debug/embeddings.jsonl to survive as the only durable embeddings record: %v", err)
	}
}

func TestRunFinishesWellWithinGraceWindow(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Execution.KMax = 4
	start := time.Now()
	if _, err := Run(context.Background(), nil, cfg, mockbackend.New(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > GraceWindow {
		t.Fatalf("mock run took %s, longer than the grace window", elapsed)
	}
}
