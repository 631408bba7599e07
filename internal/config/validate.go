package config

import "fmt"

// InvalidError is the ConfigInvalid error kind from spec.md §7: a
// schema or policy violation that aborts before run.started.
type InvalidError struct {
	Reasons []string
}

func (e *InvalidError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("config invalid: %s", e.Reasons[0])
	}
	return fmt.Sprintf("config invalid: %d problems, first: %s", len(e.Reasons), e.Reasons[0])
}

// Validate checks the policy-level invariants spec.md §3 requires of
// ResolvedConfig before a run can start.
func (c *ResolvedConfig) Validate() error {
	var reasons []string
	add := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if c.Question.Text == "" {
		add("question.text must be non-empty")
	}
	if len(c.Sampling.Models) == 0 {
		add("sampling.models must be non-empty")
	}
	for _, m := range c.Sampling.Models {
		if m.Weight <= 0 {
			add("sampling.models: slug %q has non-positive weight %v", m.Slug, m.Weight)
		}
	}
	if len(c.Sampling.Personas) == 0 {
		add("sampling.personas must be non-empty")
	}
	for _, p := range c.Sampling.Personas {
		if p.Weight <= 0 {
			add("sampling.personas: id %q has non-positive weight %v", p.ID, p.Weight)
		}
	}
	if anyPositiveWeight(c.Sampling.Models, func(m WeightedModel) float64 { return m.Weight }) == false && len(c.Sampling.Models) > 0 {
		add("sampling.models: all weights are <= 0")
	}
	if anyPositiveWeight(c.Sampling.Personas, func(p WeightedPersona) float64 { return p.Weight }) == false && len(c.Sampling.Personas) > 0 {
		add("sampling.personas: all weights are <= 0")
	}

	switch c.Protocol.Type {
	case "independent", "debate_v1":
	default:
		add("protocol.type must be independent or debate_v1, got %q", c.Protocol.Type)
	}
	if c.Protocol.Type == "debate_v1" && c.Protocol.Rounds <= 0 {
		add("protocol.rounds must be > 0 for debate_v1")
	}
	if c.Protocol.Type == "debate_v1" && len(c.Protocol.Participants) == 0 {
		add("protocol.participants must be non-empty for debate_v1")
	}
	if c.Protocol.DecisionContract != nil {
		switch c.Protocol.DecisionContract.Policy {
		case "", "warn", "exclude", "fail":
		default:
			add("protocol.decision_contract.policy must be warn, exclude, or fail, got %q", c.Protocol.DecisionContract.Policy)
		}
	}

	if c.Execution.KMax < 0 {
		add("execution.k_max must be >= 0")
	}
	if c.Execution.BatchSize < 1 {
		add("execution.batch_size must be >= 1")
	}
	if c.Execution.Workers < 1 {
		add("execution.workers must be >= 1")
	}
	switch c.Execution.StopMode {
	case "advisor", "enforcer", "disabled", "resolve_only":
	default:
		add("execution.stop_mode must be one of advisor|enforcer|disabled|resolve_only, got %q", c.Execution.StopMode)
	}
	if c.Execution.StopPolicy.Patience < 1 {
		add("execution.stop_policy.patience must be >= 1")
	}

	if c.Measurement.Clustering.Enabled {
		if c.Measurement.Clustering.Tau <= 0 || c.Measurement.Clustering.Tau > 1 {
			add("measurement.clustering.tau must be in (0,1], got %v", c.Measurement.Clustering.Tau)
		}
		switch c.Measurement.Clustering.CentroidUpdateRule {
		case "running_mean", "ema":
		default:
			add("measurement.clustering.centroid_update_rule must be running_mean or ema, got %q", c.Measurement.Clustering.CentroidUpdateRule)
		}
		if c.Measurement.Clustering.ClusterLimit != nil && *c.Measurement.Clustering.ClusterLimit < 1 {
			add("measurement.clustering.cluster_limit must be >= 1 when set")
		}
	}
	switch c.Measurement.EmbedTextStrategy {
	case "outcome_only", "full_text":
	default:
		add("measurement.embed_text_strategy must be outcome_only or full_text, got %q", c.Measurement.EmbedTextStrategy)
	}
	if c.Measurement.EmbeddingMaxChars <= 0 {
		add("measurement.embedding_max_chars must be > 0")
	}

	if c.Output.RunsDir == "" {
		add("output.runs_dir must be non-empty")
	}

	if len(reasons) > 0 {
		return &InvalidError{Reasons: reasons}
	}
	return nil
}

func anyPositiveWeight[T any](items []T, weight func(T) float64) bool {
	for _, it := range items {
		if weight(it) > 0 {
			return true
		}
	}
	return false
}
