// Package record implements Arbiter's on-disk data model: PlanEntry,
// TrialRecord, ParsedOutput, EmbeddingRecord, ClusterAssignment,
// MonitoringRecord, and Manifest, exactly as named in spec.md §3.
// Every value created here is immutable once emitted through the bus;
// the Artifact Writer owns persistence.
package record

// DecodeParam is either a fixed scalar or a {min,max} range to sample
// from. Exactly one of Scalar or Range is set.
type DecodeParam struct {
	Scalar *float64    `json:"scalar,omitempty"`
	Range  *FloatRange `json:"range,omitempty"`
}

type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AssignedConfig is the resolved (model, persona, protocol-prompt,
// decode) tuple for one trial.
type AssignedConfig struct {
	ModelSlug      string             `json:"model_slug"`
	PersonaID      string             `json:"persona_id"`
	ProtocolPrompt string             `json:"protocol_prompt_id"`
	Decode         map[string]float64 `json:"decode"`
}

// RoleAssignment binds a debate slot (A, B, ...) to a model/persona
// pair for one trial.
type RoleAssignment struct {
	Slot      string `json:"slot"`
	ModelSlug string `json:"model_slug"`
	PersonaID string `json:"persona_id"`
}

// PlanEntry is one deterministically-sampled trial definition.
type PlanEntry struct {
	TrialID         int               `json:"trial_id"`
	Protocol        string            `json:"protocol"`
	AssignedConfig  AssignedConfig    `json:"assigned_config"`
	RoleAssignments []RoleAssignment  `json:"role_assignments,omitempty"`
}

// TrialStatus enumerates terminal trial outcomes.
type TrialStatus string

const (
	TrialSuccess          TrialStatus = "success"
	TrialStatusError      TrialStatus = "error"
	TrialModelUnavailable TrialStatus = "model_unavailable"
	TrialTimeoutExhausted TrialStatus = "timeout_exhausted"
	TrialShutdownAbort    TrialStatus = "shutdown_abort"
)

// CallUsage mirrors a single backend chat call's token accounting.
type CallUsage struct {
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	TotalTokens      int      `json:"total_tokens,omitempty"`
	Cost             *float64 `json:"cost,omitempty"`
}

// CallRecord captures one chat call within a trial (one for
// Independent, one-per-turn-plus-final for Debate_v1).
type CallRecord struct {
	Slot           string     `json:"slot,omitempty"`
	Round          int        `json:"round,omitempty"`
	Final          bool       `json:"final,omitempty"`
	ModelSlug      string     `json:"model_slug"`
	ActualModel    string     `json:"actual_model,omitempty"`
	RequestPayload any        `json:"request_payload,omitempty"`
	ResponseBody   any        `json:"response_body,omitempty"`
	Usage          *CallUsage `json:"usage,omitempty"`
	LatencyMS      int64      `json:"latency_ms,omitempty"`
	RetryCount     int        `json:"retry_count"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// TranscriptTurn is one labeled turn in a Debate_v1 transcript
// ("Turn t [slot]: content").
type TranscriptTurn struct {
	Turn    int    `json:"turn"`
	Slot    string `json:"slot"`
	Content string `json:"content"`
}

// EmbeddingSummary is the embedded-in-TrialRecord pointer to the
// corresponding EmbeddingRecord's headline fields.
type EmbeddingSummary struct {
	Status       string `json:"status"`
	SkipReason   string `json:"skip_reason,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
}

// TrialError records the classified failure for a non-success trial.
type TrialError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TrialRecord is the immutable record of one executed trial.
type TrialRecord struct {
	TrialID            int              `json:"trial_id"`
	RequestedModelSlug string           `json:"requested_model_slug"`
	ActualModel        string           `json:"actual_model,omitempty"`
	Protocol           string           `json:"protocol"`
	Status             TrialStatus      `json:"status"`
	AssignedConfig     AssignedConfig   `json:"assigned_config"`
	RoleAssignments    []RoleAssignment `json:"role_assignments,omitempty"`
	Calls              []CallRecord     `json:"calls"`
	Transcript         []TranscriptTurn `json:"transcript,omitempty"`
	RawAssistantText   string           `json:"raw_assistant_text,omitempty"`
	Usage              *CallUsage       `json:"usage,omitempty"`
	Error              *TrialError      `json:"error,omitempty"`
	EmbeddingSummary   EmbeddingSummary `json:"embedding_summary"`
}

// ParseStatus enumerates ParsedOutput.parse_status.
type ParseStatus string

const (
	ParseSuccess  ParseStatus = "success"
	ParseFallback ParseStatus = "fallback"
	ParseFailed   ParseStatus = "failed"
)

// ParsedOutput is the structured-extraction result for one trial.
type ParsedOutput struct {
	TrialID          int         `json:"trial_id"`
	ParseStatus      ParseStatus `json:"parse_status"`
	Outcome          string      `json:"outcome,omitempty"`
	Rationale        string      `json:"rationale,omitempty"`
	RawAssistantText string      `json:"raw_assistant_text,omitempty"`
	EmbedText        string      `json:"embed_text,omitempty"`
	ExtractionMethod string      `json:"extraction_method,omitempty"`
	Confidence       *float64    `json:"confidence,omitempty"`
	ParserVersion    string      `json:"parser_version"`
}

// EmbeddingStatus enumerates EmbeddingRecord.embedding_status.
type EmbeddingStatus string

const (
	EmbeddingSuccess EmbeddingStatus = "success"
	EmbeddingSkipped EmbeddingStatus = "skipped"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

const (
	SkipTrialNotSuccess       = "trial_not_success"
	SkipEmptyEmbedText        = "empty_embed_text"
	SkipContractParseExcluded = "contract_parse_excluded"
)

// EmbeddingRecord is the embedding outcome for one trial.
type EmbeddingRecord struct {
	TrialID         int             `json:"trial_id"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	SkipReason      string          `json:"skip_reason,omitempty"`
	VectorB64       string          `json:"vector_b64,omitempty"`
	Dtype           string          `json:"dtype,omitempty"`
	Encoding        string          `json:"encoding,omitempty"`
	Dimensions      int             `json:"dimensions,omitempty"`
	EmbedTextSHA256 string          `json:"embed_text_sha256"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// ClusterAssignment is one online-clustering decision.
type ClusterAssignment struct {
	TrialID     int  `json:"trial_id"`
	ClusterID   int  `json:"cluster_id"`
	BatchNumber int  `json:"batch_number"`
	Forced      bool `json:"forced"`
}

// StopDecision is the MonitoringRecord.stop sub-object.
type StopDecision struct {
	Mode        string `json:"mode"`
	WouldStop   bool   `json:"would_stop"`
	ShouldStop  bool   `json:"should_stop"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ClusterMetrics is the MonitoringRecord.cluster_metrics sub-object,
// present only when clustering is enabled.
type ClusterMetrics struct {
	ClusterCount               int     `json:"cluster_count"`
	NewClustersThisBatch       int     `json:"new_clusters_this_batch"`
	LargestClusterShare        float64 `json:"largest_cluster_share"`
	ClusterDistribution        []int   `json:"cluster_distribution"`
	Entropy                    float64 `json:"entropy"`
	EffectiveClusterCount      float64 `json:"effective_cluster_count"`
	SingletonCount             int     `json:"singleton_count"`
	JSDivergence               *float64 `json:"js_divergence"`
	ClusterLimitHit            bool    `json:"cluster_limit_hit"`
	ForcedAssignmentsThisBatch int     `json:"forced_assignments_this_batch"`
	ForcedAssignmentsTotal     int     `json:"forced_assignments_cumulative"`
}

// MonitoringRecord is one batch's novelty/clustering/stop snapshot.
type MonitoringRecord struct {
	BatchNumber          int             `json:"batch_number"`
	KAttempted           int             `json:"k_attempted"`
	KEligible            int             `json:"k_eligible"`
	HasEligibleInBatch   bool            `json:"has_eligible_in_batch"`
	NoveltyRate          *float64        `json:"novelty_rate"`
	MeanMaxSimToPrior    *float64        `json:"mean_max_sim_to_prior"`
	RecordedAtUnixMillis int64           `json:"recorded_at"`
	Stop                 StopDecision    `json:"stop"`
	ClusterMetrics       *ClusterMetrics `json:"cluster_metrics,omitempty"`
}

// EmbeddingProvenance describes whether/how embeddings were
// materialized for the run.
type EmbeddingProvenance struct {
	Status       string `json:"status"` // not_generated | arrow_generated | jsonl_fallback
	Reason       string `json:"reason,omitempty"`
	Model        string `json:"model,omitempty"`
	Dimensions   int    `json:"dimensions,omitempty"`
	GeneratedAt  int64  `json:"generated_at,omitempty"`
	BLAKE3OfFile string `json:"blake3,omitempty"`
}

// Manifest is the run's accumulated, finalized metadata.
type Manifest struct {
	SchemaVersion         string            `json:"schema_version"`
	ArbiterVersion        string            `json:"arbiter_version"`
	RunID                 string            `json:"run_id"`
	StartedAt             int64             `json:"started_at"`
	CompletedAt           int64             `json:"completed_at,omitempty"`
	PlanSHA256            string            `json:"plan_sha256"`
	ConfigSHA256          string            `json:"config_sha256"`
	KPlanned              int               `json:"k_planned"`
	KAttempted            int               `json:"k_attempted"`
	KEligible             int               `json:"k_eligible"`
	StopReason            string            `json:"stop_reason,omitempty"`
	Incomplete            bool              `json:"incomplete"`
	HashAlgorithm         string            `json:"hash_algorithm"`
	ModelCatalogVersion   string            `json:"model_catalog_version,omitempty"`
	ModelCatalogSHA256    string            `json:"model_catalog_sha256,omitempty"`
	PromptManifestSHA256  string            `json:"prompt_manifest_sha256,omitempty"`
	Usage                 *CallUsage        `json:"usage,omitempty"`
	UsageByModel          map[string]*CallUsage `json:"usage_by_model,omitempty"`
	Notes                 []string          `json:"notes,omitempty"`
	Warnings              []string          `json:"warnings,omitempty"`
	Artifacts             []string          `json:"artifacts"`
	Integrity             map[string]string `json:"integrity,omitempty"`
	PolicySnapshot        map[string]any    `json:"policy_snapshot,omitempty"`
}
