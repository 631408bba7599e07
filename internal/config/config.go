// Package config implements Arbiter's ResolvedConfig: the immutable
// input configuration consumed by the planner, executor, monitor, and
// writer. Grounded on the teacher's internal/attractor/engine/config.go
// (nested yaml/json-tagged structs, pointer fields for optional
// overrides).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type WeightedModel struct {
	Slug   string  `json:"slug" yaml:"slug"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type WeightedPersona struct {
	ID     string  `json:"id" yaml:"id"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type DecodeParamConfig struct {
	Scalar *float64 `json:"scalar,omitempty" yaml:"scalar,omitempty"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func (d DecodeParamConfig) IsRange() bool { return d.Min != nil && d.Max != nil }

type SamplingConfig struct {
	Models    []WeightedModel              `json:"models" yaml:"models"`
	Personas  []WeightedPersona            `json:"personas" yaml:"personas"`
	Protocols []string                     `json:"protocols" yaml:"protocols"`
	Decode    map[string]DecodeParamConfig `json:"decode" yaml:"decode"`
}

type TimeoutsConfig struct {
	TotalTrialMS      int `json:"total_trial_ms" yaml:"total_trial_ms"`
	PerCallMS         int `json:"per_call_ms" yaml:"per_call_ms"`
	PerCallMaxRetries int `json:"per_call_max_retries" yaml:"per_call_max_retries"`
}

type DecisionContractConfig struct {
	Schema any    `json:"schema,omitempty" yaml:"schema,omitempty"`
	Clause string `json:"clause,omitempty" yaml:"clause,omitempty"`
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"` // warn | exclude | fail
}

type ProtocolConfig struct {
	Type             string                   `json:"type" yaml:"type"` // independent | debate_v1
	Participants     []string                 `json:"participants,omitempty" yaml:"participants,omitempty"`
	Rounds           int                      `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	Prompts          map[string]string        `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Timeouts         TimeoutsConfig           `json:"timeouts" yaml:"timeouts"`
	DecisionContract *DecisionContractConfig  `json:"decision_contract,omitempty" yaml:"decision_contract,omitempty"`
}

type RetryPolicyConfig struct {
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	BackoffMS  int `json:"backoff_ms" yaml:"backoff_ms"`
}

type StopPolicyConfig struct {
	NoveltyEpsilon      float64 `json:"novelty_epsilon" yaml:"novelty_epsilon"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	Patience            int     `json:"patience" yaml:"patience"`
}

type ExecutionConfig struct {
	KMax            int               `json:"k_max" yaml:"k_max"`
	KMin            int               `json:"k_min" yaml:"k_min"`
	KMinCountRule   string            `json:"k_min_count_rule,omitempty" yaml:"k_min_count_rule,omitempty"`
	BatchSize       int               `json:"batch_size" yaml:"batch_size"`
	Workers         int               `json:"workers" yaml:"workers"`
	StopMode        string            `json:"stop_mode" yaml:"stop_mode"` // advisor | enforcer | disabled | resolve_only
	StopPolicy      StopPolicyConfig  `json:"stop_policy" yaml:"stop_policy"`
	RetryPolicy     RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

type ClusteringConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	StopMode            string  `json:"stop_mode,omitempty" yaml:"stop_mode,omitempty"`
	Tau                 float64 `json:"tau" yaml:"tau"`
	CentroidUpdateRule  string  `json:"centroid_update_rule" yaml:"centroid_update_rule"` // running_mean | ema
	EMAAlpha            float64 `json:"ema_alpha,omitempty" yaml:"ema_alpha,omitempty"`
	ClusterLimit        *int    `json:"cluster_limit,omitempty" yaml:"cluster_limit,omitempty"`
}

type MeasurementConfig struct {
	EmbeddingModel      string           `json:"embedding_model" yaml:"embedding_model"`
	EmbedTextStrategy   string           `json:"embed_text_strategy" yaml:"embed_text_strategy"` // outcome_only | full_text
	EmbeddingMaxChars   int              `json:"embedding_max_chars" yaml:"embedding_max_chars"`
	NoveltyThreshold    float64          `json:"novelty_threshold" yaml:"novelty_threshold"`
	Clustering          ClusteringConfig `json:"clustering" yaml:"clustering"`
}

type OutputConfig struct {
	RunsDir            string   `json:"runs_dir" yaml:"runs_dir"`
	ArtifactGlobsAllow []string `json:"artifact_globs_allow,omitempty" yaml:"artifact_globs_allow,omitempty"`
	ArtifactGlobsDeny  []string `json:"artifact_globs_deny,omitempty" yaml:"artifact_globs_deny,omitempty"`
	DebugEmbeddings    bool     `json:"debug_embeddings,omitempty" yaml:"debug_embeddings,omitempty"`
	ValidateArtifacts  *bool    `json:"validate_artifacts,omitempty" yaml:"validate_artifacts,omitempty"`
}

// ShouldValidateArtifacts reports whether the Writer must pass every
// append/write through its schema predicate before persisting it.
// Defaults to true when unset, per spec.md §4.5.
func (o OutputConfig) ShouldValidateArtifacts() bool {
	return o.ValidateArtifacts == nil || *o.ValidateArtifacts
}

type QuestionConfig struct {
	Text string `json:"text" yaml:"text"`
}

type RunConfig struct {
	Seed any `json:"seed" yaml:"seed"`
}

// ResolvedConfig is the complete, immutable input to a run.
type ResolvedConfig struct {
	Run         RunConfig         `json:"run" yaml:"run"`
	Question    QuestionConfig    `json:"question" yaml:"question"`
	Sampling    SamplingConfig    `json:"sampling" yaml:"sampling"`
	Protocol    ProtocolConfig    `json:"protocol" yaml:"protocol"`
	Execution   ExecutionConfig   `json:"execution" yaml:"execution"`
	Measurement MeasurementConfig `json:"measurement" yaml:"measurement"`
	Output      OutputConfig      `json:"output" yaml:"output"`
}

// Load reads and parses a YAML ResolvedConfig file from path.
func Load(path string) (*ResolvedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ResolvedConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
