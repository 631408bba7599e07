// Package orchestrator wires the Planner, Batch Executor, Clustering
// Monitor, and Artifact Writer together around one internal/bus
// instance, implementing the run lifecycle and cancellation signal
// composition of spec.md §5.
//
// Grounded on the teacher's cmd/kilroy/main.go signalCancelContext
// (context.WithCancelCause plus signal.Notify) generalized into a
// two-bit cancellation signal (user_interrupt, converged_enforcer) and
// given a grace window before forced abort, since the teacher's own
// signal handling has no grace-window escalation to adapt from.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/arbiterlab/arbiter/internal/artifact"
	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/bus"
	"github.com/arbiterlab/arbiter/internal/canon"
	"github.com/arbiterlab/arbiter/internal/cluster"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/events"
	"github.com/arbiterlab/arbiter/internal/executor"
	"github.com/arbiterlab/arbiter/internal/plan"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/runid"
	"github.com/arbiterlab/arbiter/internal/vecmath"
)

// defaultLogger matches the teacher's internal/server.Server logger
// construction (log.New(os.Stderr, "[kilroy-server] ", log.LstdFlags)),
// generalized to Arbiter's own component prefix. Run uses this when the
// caller passes a nil *log.Logger.
func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "[arbiter] ", log.LstdFlags)
}

// GraceWindow is how long inflight trials get to finish after a
// user_interrupt before the run treats the signal as final, per
// spec.md §5. Not configurable from ResolvedConfig, and Run itself does
// not read it: further trials are refused as soon as interrupted is
// closed, and cmd/arbiter cancels ctx once GraceWindow has elapsed,
// which force-aborts inflight backend calls.
const GraceWindow = 30 * time.Second

// Options configures one orchestrated run.
type Options struct {
	RunsDirOverride string // overrides cfg.Output.RunsDir when non-empty
}

// Result is what the caller (cmd/arbiter) sees after a run concludes.
type Result struct {
	RunID    string
	Dir      string
	Manifest record.Manifest
}

// Run drives cfg from plan generation through manifest finalization.
//
// interrupted and ctx carry the two-bit cancellation signal spec.md §5
// describes: interrupted is closed the instant a shutdown is requested
// (the Batch Executor's ShouldStop oracle sees it immediately, before
// any grace window), while ctx itself is only canceled once the grace
// window has elapsed or a second interrupt arrives, at which point
// inflight backend calls are force-aborted. Pass a nil interrupted
// channel to run without any interrupt handling (e.g. under test). A
// nil logger falls back to defaultLogger (stderr, "[arbiter] " prefix),
// matching the teacher's internal/server.Server construction.
func Run(ctx context.Context, interrupted <-chan struct{}, cfg *config.ResolvedConfig, bk backend.Backend, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("orchestrator: %w", err)
	}

	planResult, err := plan.Build(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: plan generation failed: %w", err)
	}

	configSHA, err := canon.SHA256Hex(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: hash config: %w", err)
	}

	runsDir := cfg.Output.RunsDir
	id := runid.New()
	dir := filepath.Join(runsDir, id)

	w, err := artifact.New(dir, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: open run directory: %w", err)
	}

	b := bus.New()
	w.Subscribe(b)
	b.SubscribeSafe(bus.WarningRaised, func(payload any) error {
		if warn, ok := payload.(events.WarningRaised); ok {
			logger.Printf("warning: %s: %s", warn.Source, warn.Message)
		}
		return nil
	}, func(err error) { logger.Printf("warning handler failed: %v", err) })

	startedAt := executor.NowMS()
	logger.Printf("run %s started: %d planned trials", id, len(planResult.Entries))
	b.Emit(bus.RunStarted, events.RunStarted{
		RunID: id, StartedAtMS: startedAt, Config: cfg,
		ConfigSHA256: configSHA, Plan: planResult.Entries, PlanSHA256: planResult.PlanSHA256,
	})
	for _, entry := range planResult.Entries {
		b.Emit(bus.TrialPlanned, events.TrialPlanned{Entry: entry})
	}

	monitor := cluster.New(cfg.Measurement, cfg.Execution)
	userInterrupted := func() bool {
		if interrupted == nil {
			return false
		}
		select {
		case <-interrupted:
			return true
		default:
			return false
		}
	}

	shouldStop := func() executor.StopDecision {
		if userInterrupted() {
			return executor.StopDecision{Stop: true, Reason: "user_interrupt"}
		}
		if cfg.Execution.StopMode == "enforcer" && monitor.Converged() {
			return executor.StopDecision{Stop: true, Reason: "converged"}
		}
		return executor.StopDecision{Stop: false}
	}

	runner := &executor.TrialRunner{Backend: bk, RunID: id, Cfg: cfg}
	batcher := &executor.Batcher{
		Cfg:        cfg,
		Bus:        b,
		TrialRunFn: runner.Run,
		ShouldStop: shouldStop,
	}
	batcher.OnBatchComplete = func(batchNumber int, results []executor.TrialResult) {
		processBatch(b, monitor, cfg, batchNumber, results)
	}

	outcome := batcher.Run(ctx, planResult.Entries)

	finalizeEmbeddings(b, monitor)
	emitAggregates(b, monitor, outcome)

	completedAt := executor.NowMS()
	if outcome.StopReason == "" {
		outcome.StopReason = "completed"
	}
	b.Emit(bus.RunCompleted, events.RunCompleted{CompletedAtMS: completedAt, StopReason: outcome.StopReason})
	logger.Printf("run %s completed: stop_reason=%s k_attempted=%d", id, outcome.StopReason, len(outcome.Results))

	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("orchestrator: close run directory: %w", err)
	}

	return Result{RunID: id, Dir: dir, Manifest: readbackManifest(w)}, nil
}

// processBatch decodes this batch's successful embeddings, feeds them
// to the Monitor, and emits the ordering sequence spec.md §5 requires:
// convergence.record, then cluster.assigned (ascending trial_id), then
// clusters.state.
func processBatch(b *bus.Bus, monitor *cluster.Monitor, cfg *config.ResolvedConfig, batchNumber int, results []executor.TrialResult) {
	sorted := append([]executor.TrialResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Trial.TrialID < sorted[j].Trial.TrialID })

	var successes []cluster.SuccessEmbedding
	for _, r := range sorted {
		if r.Embedding.EmbeddingStatus != record.EmbeddingSuccess {
			continue
		}
		vec, err := vecmath.DecodeFloat32LEBase64(r.Embedding.VectorB64)
		if err != nil {
			b.Emit(bus.WarningRaised, events.WarningRaised{Source: "orchestrator:decode_embedding", Message: err.Error()})
			continue
		}
		successes = append(successes, cluster.SuccessEmbedding{TrialID: r.Trial.TrialID, Vector: vec})
	}

	batchResult := monitor.ProcessBatch(batchNumber, len(results), successes)

	batchResult.Monitoring.RecordedAtUnixMillis = executor.NowMS()
	b.Emit(bus.ConvergenceRecord, events.ConvergenceRecord{Record: batchResult.Monitoring})

	for _, a := range batchResult.Assignments {
		b.Emit(bus.ClusterAssigned, events.ClusterAssignedEvent{Assignment: a})
	}

	if cfg.Measurement.Clustering.Enabled {
		centroids, members := monitor.ClusterCountSnapshot()
		b.Emit(bus.ClustersState, events.ClustersState{Centroids: centroids, MemberCount: members, BatchNumber: batchNumber})
	}
}

// finalizeEmbeddings emits the embeddings.finalized event spec.md §4.5
// requires immediately before run.completed|failed. Arbiter has no
// Arrow materialization path, so a run with any successful embeddings
// falls back to the debug JSONL as its durable record.
func finalizeEmbeddings(b *bus.Bus, monitor *cluster.Monitor) {
	eligible := monitor.EligibleCount()
	prov := record.EmbeddingProvenance{GeneratedAt: executor.NowMS()}
	if eligible > 0 {
		prov.Status = "jsonl_fallback"
		prov.Reason = "arrow_not_implemented"
	} else {
		prov.Status = "not_generated"
		prov.Reason = "no_successful_embeddings"
	}
	b.Emit(bus.EmbeddingsFinalized, events.EmbeddingsFinalized{Provenance: prov})
}

// emitAggregates publishes the run-wide aggregates.computed snapshot.
// The Monitor is the canonical source (it is the only component that
// has watched every batch), so the Orchestrator only asks it for a
// summary rather than recomputing anything from the raw trial stream.
func emitAggregates(b *bus.Bus, monitor *cluster.Monitor, outcome executor.Outcome) {
	agg := map[string]any{
		"k_eligible":  monitor.EligibleCount(),
		"k_attempted": len(outcome.Results),
		"stop_reason": outcome.StopReason,
		"converged":   monitor.Converged(),
	}
	b.Emit(bus.AggregatesComputed, events.AggregatesComputed{Aggregates: agg})
}

func readbackManifest(w *artifact.Writer) record.Manifest {
	return w.Manifest()
}
