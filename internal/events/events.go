// Package events defines the payload types carried over internal/bus
// for each of spec.md §4.1's topics. Kept separate from internal/record
// (the on-disk schema types) so the bus can carry batch-scoped metadata
// (e.g. which trial_ids make up a batch) alongside the pure records.
package events

import "github.com/arbiterlab/arbiter/internal/record"

// RunStarted is emitted once, before any trial event.
type RunStarted struct {
	RunID        string
	StartedAtMS  int64
	Config       any
	ConfigSHA256 string
	Plan         []record.PlanEntry
	PlanSHA256   string
}

// TrialPlanned is emitted once per plan entry, from the planner phase,
// strictly before that trial's TrialCompleted.
type TrialPlanned struct {
	Entry record.PlanEntry
}

// TrialCompleted carries one emitted TrialRecord.
type TrialCompleted struct {
	Record record.TrialRecord
}

// ParsedOutputEvent carries one emitted ParsedOutput.
type ParsedOutputEvent struct {
	Output record.ParsedOutput
}

// EmbeddingRecorded carries one emitted EmbeddingRecord.
type EmbeddingRecorded struct {
	Record record.EmbeddingRecord
}

// BatchStarted precedes all of a batch's trial completion events.
type BatchStarted struct {
	BatchNumber int
	TrialIDs    []int
}

// BatchCompleted follows every trial in the batch; TrialIDs is sorted ascending.
type BatchCompleted struct {
	BatchNumber int
	TrialIDs    []int
}

// ConvergenceRecord carries one per-batch MonitoringRecord.
type ConvergenceRecord struct {
	Record record.MonitoringRecord
}

// ClusterAssignedEvent carries one ClusterAssignment, emitted in
// ascending trial_id order within a batch.
type ClusterAssignedEvent struct {
	Assignment record.ClusterAssignment
}

// ClustersState is the full online-clustering state snapshot,
// overwritten atomically after each batch.
type ClustersState struct {
	Centroids   [][]float32 `json:"centroids"`
	MemberCount []int       `json:"member_counts"`
	BatchNumber int         `json:"batch_number"`
}

// AggregatesComputed carries the run-wide totals written to
// aggregates.json: k_eligible, k_attempted, stop_reason and converged.
// It does not carry the last MonitoringRecord's novelty or similarity
// fields.
type AggregatesComputed struct {
	Aggregates map[string]any
}

// EmbeddingsFinalized carries the final embeddings provenance.
type EmbeddingsFinalized struct {
	Provenance record.EmbeddingProvenance
}

// ArtifactWritten names one extra artifact path relative to the run directory.
type ArtifactWritten struct {
	RelPath string
}

// WarningRaised carries a recoverable failure that must never abort the run.
type WarningRaised struct {
	Source  string
	Message string
}

// RunCompleted/RunFailed conclude the run.
type RunCompleted struct {
	CompletedAtMS int64
	StopReason    string
}

type RunFailed struct {
	CompletedAtMS int64
	Err           error
}
