package artifact

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/arbiterlab/arbiter/internal/bus"
	"github.com/arbiterlab/arbiter/internal/canon"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/events"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/schema"
)

// validate passes value through the schema predicate when
// output.validate_artifacts is enabled (the default). A failure here
// aborts only the calling handler; SubscribeSafe turns it into a
// warning.raised, never an abort of the run.
func (w *Writer) validate(kind schema.Kind, value any) error {
	if !w.cfg.Output.ShouldValidateArtifacts() {
		return nil
	}
	return schema.Validate(kind, value)
}

const schemaVersion = "1.0.0"

// Writer owns the run directory's file handles and the in-memory
// Manifest until Close, per spec.md §4.5. It is the sole subscriber
// responsible for on-disk persistence.
type Writer struct {
	dir string
	cfg *config.ResolvedConfig

	trialPlan    *jsonlWriter
	trials       *jsonlWriter
	parsed       *jsonlWriter
	convergence  *jsonlWriter
	clusterAssig *jsonlWriter
	debugEmbed   *jsonlWriter

	manifest         record.Manifest
	extraArtifacts   []string
	contractFallback int
	contractFailed   int
	lastTrialStatus  map[int]record.TrialStatus
	lastParseStatus  map[int]record.ParseStatus
	provenance       *record.EmbeddingProvenance
	embedSuccess     int
	embedFailed      int
	embedSkipped     int
	clusteringOn     bool
	manifestStarted  bool
	unsubscribers    []bus.Unsubscribe
}

// New opens the run directory's append-only logs. dir is
// <runs_dir>/<run_id>.
func New(dir string, cfg *config.ResolvedConfig) (*Writer, error) {
	w := &Writer{
		dir:             dir,
		cfg:             cfg,
		lastTrialStatus: make(map[int]record.TrialStatus),
		lastParseStatus: make(map[int]record.ParseStatus),
		clusteringOn:    cfg.Measurement.Clustering.Enabled,
	}

	var err error
	if w.trialPlan, err = newJSONLWriter(filepath.Join(dir, "trial_plan.jsonl")); err != nil {
		return nil, err
	}
	if w.trials, err = newJSONLWriter(filepath.Join(dir, "trials.jsonl")); err != nil {
		return nil, err
	}
	if w.parsed, err = newJSONLWriter(filepath.Join(dir, "parsed.jsonl")); err != nil {
		return nil, err
	}
	if w.convergence, err = newJSONLWriter(filepath.Join(dir, "convergence_trace.jsonl")); err != nil {
		return nil, err
	}
	if w.clusteringOn {
		if w.clusterAssig, err = newJSONLWriter(filepath.Join(dir, "clusters", "online.assignments.jsonl")); err != nil {
			return nil, err
		}
	}
	// Always opened: per spec.md §6, debug/embeddings.jsonl is kept
	// whenever debug_embeddings is on OR it turns out to be the only
	// durable embeddings artifact (no Arrow finalization path exists
	// here). finalize deletes it when neither condition holds.
	if w.debugEmbed, err = newJSONLWriter(filepath.Join(dir, "debug", "embeddings.jsonl")); err != nil {
		return nil, err
	}

	return w, nil
}

// Subscribe registers the Writer's handlers on b. onError is invoked
// (and warning.raised emitted) whenever a handler fails; per spec.md
// §4.5 a validation or I/O failure never aborts the run.
func (w *Writer) Subscribe(b *bus.Bus) {
	onErr := func(topic bus.Topic) func(error) {
		return func(err error) {
			b.Emit(bus.WarningRaised, events.WarningRaised{Source: "artifact_writer:" + string(topic), Message: err.Error()})
		}
	}

	w.unsubscribers = append(w.unsubscribers,
		b.SubscribeSafe(bus.RunStarted, w.onRunStarted, onErr(bus.RunStarted)),
		b.SubscribeSafe(bus.TrialPlanned, w.onTrialPlanned, onErr(bus.TrialPlanned)),
		b.SubscribeSafe(bus.TrialCompleted, w.onTrialCompleted, onErr(bus.TrialCompleted)),
		b.SubscribeSafe(bus.ParsedOutput, w.onParsedOutput, onErr(bus.ParsedOutput)),
		b.SubscribeSafe(bus.EmbeddingRecorded, w.onEmbeddingRecorded, onErr(bus.EmbeddingRecorded)),
		b.SubscribeSafe(bus.ConvergenceRecord, w.onConvergenceRecord, onErr(bus.ConvergenceRecord)),
		b.SubscribeSafe(bus.ClusterAssigned, w.onClusterAssigned, onErr(bus.ClusterAssigned)),
		b.SubscribeSafe(bus.ClustersState, w.onClustersState, onErr(bus.ClustersState)),
		b.SubscribeSafe(bus.AggregatesComputed, w.onAggregatesComputed, onErr(bus.AggregatesComputed)),
		b.SubscribeSafe(bus.EmbeddingsFinalized, w.onEmbeddingsFinalized, onErr(bus.EmbeddingsFinalized)),
		b.SubscribeSafe(bus.ArtifactWritten, w.onArtifactWritten, onErr(bus.ArtifactWritten)),
		b.SubscribeSafe(bus.RunCompleted, w.onRunCompleted, onErr(bus.RunCompleted)),
		b.SubscribeSafe(bus.RunFailed, w.onRunFailed, onErr(bus.RunFailed)),
	)
}

func (w *Writer) onRunStarted(payload any) error {
	ev, ok := payload.(events.RunStarted)
	if !ok {
		return fmt.Errorf("artifact: run.started: unexpected payload %T", payload)
	}

	if err := writeJSONAtomic(filepath.Join(w.dir, "config.resolved.json"), ev.Config); err != nil {
		return err
	}

	w.manifest = record.Manifest{
		SchemaVersion: schemaVersion,
		RunID:         ev.RunID,
		StartedAt:     ev.StartedAtMS,
		PlanSHA256:    ev.PlanSHA256,
		ConfigSHA256:  ev.ConfigSHA256,
		KPlanned:      len(ev.Plan),
		HashAlgorithm: "sha256",
		Artifacts:     []string{},
	}
	w.manifestStarted = true
	return writeJSONAtomic(filepath.Join(w.dir, "manifest.json"), w.manifest)
}

func (w *Writer) onTrialPlanned(payload any) error {
	ev, ok := payload.(events.TrialPlanned)
	if !ok {
		return fmt.Errorf("artifact: trial.planned: unexpected payload %T", payload)
	}
	if err := w.validate(schema.PlanEntry, ev.Entry); err != nil {
		return err
	}
	return w.trialPlan.Append(ev.Entry)
}

func (w *Writer) onTrialCompleted(payload any) error {
	ev, ok := payload.(events.TrialCompleted)
	if !ok {
		return fmt.Errorf("artifact: trial.completed: unexpected payload %T", payload)
	}
	if err := w.validate(schema.TrialRecord, ev.Record); err != nil {
		return err
	}
	w.lastTrialStatus[ev.Record.TrialID] = ev.Record.Status
	w.accumulateUsage(ev.Record)
	return w.trials.Append(ev.Record)
}

func (w *Writer) onParsedOutput(payload any) error {
	ev, ok := payload.(events.ParsedOutputEvent)
	if !ok {
		return fmt.Errorf("artifact: parsed.output: unexpected payload %T", payload)
	}
	if err := w.validate(schema.ParsedOutput, ev.Output); err != nil {
		return err
	}
	w.lastParseStatus[ev.Output.TrialID] = ev.Output.ParseStatus
	if w.cfg.Protocol.DecisionContract != nil && w.lastTrialStatus[ev.Output.TrialID] == record.TrialSuccess {
		switch ev.Output.ParseStatus {
		case record.ParseFallback:
			w.contractFallback++
		case record.ParseFailed:
			w.contractFailed++
		}
	}
	return w.parsed.Append(ev.Output)
}

func (w *Writer) onEmbeddingRecorded(payload any) error {
	ev, ok := payload.(events.EmbeddingRecorded)
	if !ok {
		return fmt.Errorf("artifact: embedding.recorded: unexpected payload %T", payload)
	}
	if err := w.validate(schema.EmbeddingRecord, ev.Record); err != nil {
		return err
	}
	switch ev.Record.EmbeddingStatus {
	case record.EmbeddingSuccess:
		w.embedSuccess++
	case record.EmbeddingFailed:
		w.embedFailed++
	case record.EmbeddingSkipped:
		w.embedSkipped++
	}
	if w.debugEmbed != nil {
		if err := w.debugEmbed.Append(ev.Record); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) onConvergenceRecord(payload any) error {
	ev, ok := payload.(events.ConvergenceRecord)
	if !ok {
		return fmt.Errorf("artifact: convergence.record: unexpected payload %T", payload)
	}
	if err := w.validate(schema.MonitoringRecord, ev.Record); err != nil {
		return err
	}
	return w.convergence.Append(ev.Record)
}

func (w *Writer) onClusterAssigned(payload any) error {
	ev, ok := payload.(events.ClusterAssignedEvent)
	if !ok {
		return fmt.Errorf("artifact: cluster.assigned: unexpected payload %T", payload)
	}
	if w.clusterAssig == nil {
		return nil
	}
	if err := w.validate(schema.ClusterAssignment, ev.Assignment); err != nil {
		return err
	}
	return w.clusterAssig.Append(ev.Assignment)
}

func (w *Writer) onClustersState(payload any) error {
	ev, ok := payload.(events.ClustersState)
	if !ok {
		return fmt.Errorf("artifact: clusters.state: unexpected payload %T", payload)
	}
	if err := writeJSONAtomic(filepath.Join(w.dir, "clusters", "online.state.json"), ev); err != nil {
		return err
	}
	members := make([]int, len(ev.MemberCount))
	copy(members, ev.MemberCount)
	return writeClusterCheckpoint(filepath.Join(w.dir, "clusters", "online.checkpoint.msgpack"), ev.BatchNumber, ev.Centroids, members)
}

func (w *Writer) onAggregatesComputed(payload any) error {
	ev, ok := payload.(events.AggregatesComputed)
	if !ok {
		return fmt.Errorf("artifact: aggregates.computed: unexpected payload %T", payload)
	}
	return writeJSONAtomic(filepath.Join(w.dir, "aggregates.json"), ev.Aggregates)
}

func (w *Writer) onEmbeddingsFinalized(payload any) error {
	ev, ok := payload.(events.EmbeddingsFinalized)
	if !ok {
		return fmt.Errorf("artifact: embeddings.finalized: unexpected payload %T", payload)
	}
	w.provenance = &ev.Provenance
	return writeJSONAtomic(filepath.Join(w.dir, "embeddings.provenance.json"), ev.Provenance)
}

func (w *Writer) onArtifactWritten(payload any) error {
	ev, ok := payload.(events.ArtifactWritten)
	if !ok {
		return fmt.Errorf("artifact: artifact.written: unexpected payload %T", payload)
	}
	if !artifactAllowed(ev.RelPath, w.cfg.Output.ArtifactGlobsAllow, w.cfg.Output.ArtifactGlobsDeny) {
		return nil
	}
	w.extraArtifacts = append(w.extraArtifacts, ev.RelPath)
	if w.manifestStarted {
		w.manifest.Artifacts = w.buildArtifactsList()
		return writeJSONAtomic(filepath.Join(w.dir, "manifest.json"), w.manifest)
	}
	return nil
}

func (w *Writer) onRunCompleted(payload any) error {
	ev, ok := payload.(events.RunCompleted)
	if !ok {
		return fmt.Errorf("artifact: run.completed: unexpected payload %T", payload)
	}
	return w.finalize(ev.CompletedAtMS, ev.StopReason)
}

func (w *Writer) onRunFailed(payload any) error {
	ev, ok := payload.(events.RunFailed)
	if !ok {
		return fmt.Errorf("artifact: run.failed: unexpected payload %T", payload)
	}
	msg := "error"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	w.manifest.Notes = append(w.manifest.Notes, "run failed: "+msg)
	return w.finalize(ev.CompletedAtMS, "error")
}

func (w *Writer) accumulateUsage(t record.TrialRecord) {
	if t.Usage == nil {
		return
	}
	if w.manifest.Usage == nil {
		w.manifest.Usage = &record.CallUsage{}
	}
	w.manifest.Usage.PromptTokens += t.Usage.PromptTokens
	w.manifest.Usage.CompletionTokens += t.Usage.CompletionTokens
	w.manifest.Usage.TotalTokens += t.Usage.TotalTokens

	if w.manifest.UsageByModel == nil {
		w.manifest.UsageByModel = make(map[string]*record.CallUsage)
	}
	slug := t.RequestedModelSlug
	if w.manifest.UsageByModel[slug] == nil {
		w.manifest.UsageByModel[slug] = &record.CallUsage{}
	}
	per := w.manifest.UsageByModel[slug]
	per.PromptTokens += t.Usage.PromptTokens
	per.CompletionTokens += t.Usage.CompletionTokens
	per.TotalTokens += t.Usage.TotalTokens
}

// buildArtifactsList implements spec.md §4.5's manifest.artifacts
// reconstruction rule.
func (w *Writer) buildArtifactsList() []string {
	list := []string{"config.resolved.json", "manifest.json"}
	for _, name := range []string{"trial_plan.jsonl", "trials.jsonl", "parsed.jsonl", "convergence_trace.jsonl"} {
		list = append(list, name)
	}
	list = append(list, "embeddings.provenance.json", "aggregates.json")

	if w.provenance != nil && w.provenance.Status == "arrow_generated" {
		list = append(list, "embeddings.arrow")
	}
	if w.cfg.Output.DebugEmbeddings || (w.provenance != nil && w.provenance.Status == "jsonl_fallback") {
		list = append(list, filepath.Join("debug", "embeddings.jsonl"))
	}
	if w.clusteringOn {
		list = append(list, filepath.Join("clusters", "online.assignments.jsonl"), filepath.Join("clusters", "online.state.json"))
	}
	list = append(list, w.extraArtifacts...)

	sort.Strings(list)
	return dedupe(list)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Manifest returns the Writer's current in-memory manifest snapshot,
// for callers (the Orchestrator) that want the finalized result without
// re-reading manifest.json off disk.
func (w *Writer) Manifest() record.Manifest {
	return w.manifest
}

// Close flushes and closes every open JSONL handle, per spec.md §4.5.
func (w *Writer) Close() error {
	var firstErr error
	for _, f := range []*jsonlWriter{w.trialPlan, w.trials, w.parsed, w.convergence, w.clusterAssig, w.debugEmbed} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// canonicalConfigSHA256 computes config_sha256 with the same canonical
// encoding the Planner relies on. It is unexported and has no caller:
// the Orchestrator computes config_sha256 itself via canon.SHA256Hex.
func canonicalConfigSHA256(cfg *config.ResolvedConfig) (string, error) {
	return canon.SHA256Hex(cfg)
}
