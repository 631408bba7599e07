package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arbiterlab/arbiter/internal/bus"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/events"
	"github.com/arbiterlab/arbiter/internal/record"
)

// StopDecision is the cancellation oracle's answer, per spec.md §4.3.6.
type StopDecision struct {
	Stop   bool
	Reason string // "user_interrupt" | "converged"
}

// ShouldStopFunc is consulted between batches and before enqueueing each
// trial within a batch.
type ShouldStopFunc func() StopDecision

// Batcher slices a plan into batches and runs each one's trials over a
// bounded worker pool, in the §4.3.6 enqueue/completion order.
//
// Grounded on the teacher's dispatchParallelBranches
// (internal/attractor/engine/parallel_handlers.go): a job channel fed
// in plan order, a fixed-size pool of goroutines draining it, and a
// sync.WaitGroup barrier at the end of each batch — the same shape,
// generalized from graph branches to trials and fed batch-by-batch
// instead of once for the whole graph, since spec.md requires the
// cancellation oracle to be consulted between batches.
type Batcher struct {
	Cfg        *config.ResolvedConfig
	Bus        *bus.Bus
	TrialRunFn func(ctx context.Context, entry record.PlanEntry) TrialResult
	ShouldStop ShouldStopFunc

	// OnBatchComplete, if set, runs after each batch's trial/parsed/
	// embedding events have been emitted but before the next batch's
	// ShouldStop poll — this is the Clustering Monitor's hook (spec.md
	// §4.3.6: the oracle must see a batch's convergence update before
	// deciding whether to run the next one).
	OnBatchComplete func(batchNumber int, results []TrialResult)
}

// Outcome is the batch executor's terminal summary for the orchestrator.
type Outcome struct {
	StopReason string // "completed" | "k_max_reached" | "user_interrupt" | "converged"
	Incomplete bool
	Results    []TrialResult // in ascending trial_id order, across all attempted trials
}

// Run executes plan in contiguous batches of cfg.Execution.BatchSize,
// up to cfg.Execution.Workers concurrent trials per batch.
func (b *Batcher) Run(ctx context.Context, plan []record.PlanEntry) Outcome {
	batchSize := b.Cfg.Execution.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var all []TrialResult
	stopReason := "k_max_reached"
	incomplete := false

	for start := 0; start < len(plan); start += batchSize {
		if dec := b.ShouldStop(); dec.Stop {
			stopReason = dec.Reason
			incomplete = true
			break
		}

		end := start + batchSize
		if end > len(plan) {
			end = len(plan)
		}
		batchNumber := start / batchSize
		batchEntries := plan[start:end]

		results, halted, haltReason := b.runBatch(ctx, batchNumber, batchEntries)
		all = append(all, results...)
		if b.OnBatchComplete != nil {
			b.OnBatchComplete(batchNumber, results)
		}
		if halted {
			stopReason = haltReason
			incomplete = true
			break
		}
	}

	if len(all) == len(plan) && !incomplete {
		stopReason = "k_max_reached"
		if len(plan) == 0 {
			stopReason = "completed"
		}
	}

	return Outcome{StopReason: stopReason, Incomplete: incomplete, Results: all}
}

func (b *Batcher) runBatch(ctx context.Context, batchNumber int, entries []record.PlanEntry) (results []TrialResult, halted bool, haltReason string) {
	trialIDs := make([]int, len(entries))
	for i, e := range entries {
		trialIDs[i] = e.TrialID
	}
	b.Bus.Emit(bus.BatchStarted, events.BatchStarted{BatchNumber: batchNumber, TrialIDs: trialIDs})

	workers := b.Cfg.Execution.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers < 1 {
		workers = 1
	}

	type job struct {
		idx   int
		entry record.PlanEntry
	}

	jobs := make(chan job)
	out := make([]TrialResult, len(entries))
	ran := make([]bool, len(entries))
	var wg sync.WaitGroup
	var mu sync.Mutex
	stopped := false
	var stopReason string

	// A job pulled off jobs after ShouldStop reports true is left
	// un-dispatched: spec.md §4.3.6 only enqueues further trials while
	// the oracle says go, and a trial that was never dispatched emits
	// no TrialRecord at all (§4.3.2's exactly-one-record-or-skipped
	// invariant), unlike a trial that started and then failed.
	worker := func() {
		defer wg.Done()
		for j := range jobs {
			mu.Lock()
			dec := b.ShouldStop()
			if dec.Stop {
				stopped = true
				stopReason = dec.Reason
				mu.Unlock()
				continue
			}
			mu.Unlock()

			out[j.idx] = b.TrialRunFn(ctx, j.entry)
			mu.Lock()
			ran[j.idx] = true
			mu.Unlock()
		}
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	for i, e := range entries {
		jobs <- job{idx: i, entry: e}
	}
	close(jobs)
	wg.Wait()

	attempted := make([]TrialResult, 0, len(out))
	attemptedIDs := make([]int, 0, len(out))
	for i, r := range out {
		if !ran[i] {
			continue
		}
		b.Bus.Emit(bus.TrialCompleted, events.TrialCompleted{Record: r.Trial})
		b.Bus.Emit(bus.ParsedOutput, events.ParsedOutputEvent{Output: r.Parsed})
		b.Bus.Emit(bus.EmbeddingRecorded, events.EmbeddingRecorded{Record: r.Embedding})
		attempted = append(attempted, r)
		attemptedIDs = append(attemptedIDs, trialIDs[i])
	}

	sort.Ints(attemptedIDs)
	b.Bus.Emit(bus.BatchCompleted, events.BatchCompleted{BatchNumber: batchNumber, TrialIDs: attemptedIDs})

	return attempted, stopped, stopReason
}

// NowMS is the wall-clock millis helper MonitoringRecord.recorded_at
// and Manifest timestamps use; factored out so tests can override if
// ever needed, though the executor itself never branches on its value.
func NowMS() int64 {
	return time.Now().UnixMilli()
}
