package executor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/arbiterlab/arbiter/internal/bus"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/record"
)

func entriesWithIDs(n int) []record.PlanEntry {
	entries := make([]record.PlanEntry, n)
	for i := range entries {
		entries[i] = record.PlanEntry{TrialID: i}
	}
	return entries
}

// TestRunStopsWithinBatchWithoutFabricatingRecords exercises the
// within-batch stop path directly: ShouldStop starts returning true
// partway through a single batch's dispatch, after some but not all of
// its jobs have already reached the worker loop. Every trial that was
// genuinely dispatched must still produce exactly one TrialRecord; every
// trial the oracle blocked must produce none at all, per spec.md's
// exactly-one-record-or-skipped invariant.
func TestRunStopsWithinBatchWithoutFabricatingRecords(t *testing.T) {
	cfg := &config.ResolvedConfig{Execution: config.ExecutionConfig{BatchSize: 8, Workers: 1}}
	b := bus.New()

	var completed, started int32
	b.SubscribeSafe(bus.TrialCompleted, func(payload any) error {
		atomic.AddInt32(&completed, 1)
		return nil
	}, nil)

	var dispatched int32
	const stopAfter = 3

	batcher := &Batcher{
		Cfg: cfg,
		Bus: b,
		TrialRunFn: func(ctx context.Context, entry record.PlanEntry) TrialResult {
			atomic.AddInt32(&dispatched, 1)
			return TrialResult{Trial: record.TrialRecord{TrialID: entry.TrialID, Status: record.TrialSuccess}}
		},
		ShouldStop: func() StopDecision {
			if atomic.LoadInt32(&started) >= stopAfter {
				return StopDecision{Stop: true, Reason: "user_interrupt"}
			}
			atomic.AddInt32(&started, 1)
			return StopDecision{Stop: false}
		},
	}

	entries := entriesWithIDs(8)
	outcome := batcher.Run(context.Background(), entries)

	if !outcome.Incomplete {
		t.Fatal("expected an incomplete outcome when stopped mid-batch")
	}
	if outcome.StopReason != "user_interrupt" {
		t.Fatalf("expected stop_reason=user_interrupt, got %q", outcome.StopReason)
	}
	if len(outcome.Results) != int(dispatched) {
		t.Fatalf("expected exactly one TrialRecord per dispatched trial: dispatched=%d results=%d", dispatched, len(outcome.Results))
	}
	if int(completed) != len(outcome.Results) {
		t.Fatalf("expected trial.completed to fire once per attempted trial: fired=%d results=%d", completed, len(outcome.Results))
	}
	if dispatched >= int32(len(entries)) {
		t.Fatalf("expected the oracle to block some jobs, but all %d were dispatched", len(entries))
	}
	for _, r := range outcome.Results {
		if r.Trial.Status != record.TrialSuccess {
			t.Fatalf("unexpected non-success status on an attempted trial: %+v", r.Trial)
		}
	}
}

// TestRunOuterBatchStopStillProducesNoRecords keeps the pre-existing
// between-batch behavior honest: stopping before a batch starts must
// still emit zero records for that batch's trials.
func TestRunOuterBatchStopStillProducesNoRecords(t *testing.T) {
	cfg := &config.ResolvedConfig{Execution: config.ExecutionConfig{BatchSize: 2, Workers: 2}}
	b := bus.New()

	batcher := &Batcher{
		Cfg: cfg,
		Bus: b,
		TrialRunFn: func(ctx context.Context, entry record.PlanEntry) TrialResult {
			return TrialResult{Trial: record.TrialRecord{TrialID: entry.TrialID, Status: record.TrialSuccess}}
		},
		ShouldStop: func() StopDecision {
			return StopDecision{Stop: true, Reason: "user_interrupt"}
		},
	}

	outcome := batcher.Run(context.Background(), entriesWithIDs(4))
	if len(outcome.Results) != 0 {
		t.Fatalf("expected zero results when stopped before the first batch, got %d", len(outcome.Results))
	}
	if !outcome.Incomplete || outcome.StopReason != "user_interrupt" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}
