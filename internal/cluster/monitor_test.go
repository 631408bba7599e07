package cluster

import (
	"testing"

	"github.com/arbiterlab/arbiter/internal/config"
)

func vec(x, y float32) []float32 { return []float32{x, y} }

func measurementCfg(tau float64, limit *int) config.MeasurementConfig {
	return config.MeasurementConfig{
		NoveltyThreshold: 0.8,
		Clustering: config.ClusteringConfig{
			Enabled:            true,
			Tau:                tau,
			CentroidUpdateRule: "running_mean",
			ClusterLimit:       limit,
		},
	}
}

func execCfg() config.ExecutionConfig {
	return config.ExecutionConfig{
		KMin:     2,
		StopMode: "enforcer",
		StopPolicy: config.StopPolicyConfig{
			NoveltyEpsilon:      0.1,
			SimilarityThreshold: 0.9,
			Patience:            2,
		},
	}
}

func TestFirstVectorCreatesClusterZero(t *testing.T) {
	m := New(measurementCfg(0.9, nil), execCfg())
	res := m.ProcessBatch(0, 1, []SuccessEmbedding{{TrialID: 0, Vector: vec(1, 0)}})
	if len(res.Assignments) != 1 || res.Assignments[0].ClusterID != 0 || res.Assignments[0].Forced {
		t.Fatalf("expected first vector assigned cluster 0, unforced, got %+v", res.Assignments)
	}
	if res.Monitoring.NoveltyRate != nil || res.Monitoring.MeanMaxSimToPrior != nil {
		t.Fatalf("expected null novelty metrics on the first batch (empty priors)")
	}
}

func TestSimilarVectorJoinsExistingCluster(t *testing.T) {
	m := New(measurementCfg(0.9, nil), execCfg())
	m.ProcessBatch(0, 1, []SuccessEmbedding{{TrialID: 0, Vector: vec(1, 0)}})
	res := m.ProcessBatch(1, 1, []SuccessEmbedding{{TrialID: 1, Vector: vec(0.99, 0.01)}})
	if res.Assignments[0].ClusterID != 0 {
		t.Fatalf("expected near-identical vector to join cluster 0, got %d", res.Assignments[0].ClusterID)
	}
}

func TestDissimilarVectorCreatesNewCluster(t *testing.T) {
	m := New(measurementCfg(0.9, nil), execCfg())
	m.ProcessBatch(0, 1, []SuccessEmbedding{{TrialID: 0, Vector: vec(1, 0)}})
	res := m.ProcessBatch(1, 1, []SuccessEmbedding{{TrialID: 1, Vector: vec(0, 1)}})
	if res.Assignments[0].ClusterID != 1 {
		t.Fatalf("expected orthogonal vector to start a new cluster, got %d", res.Assignments[0].ClusterID)
	}
	if res.Monitoring.ClusterMetrics.ClusterCount != 2 {
		t.Fatalf("expected cluster_count=2, got %d", res.Monitoring.ClusterMetrics.ClusterCount)
	}
}

func TestClusterLimitForcesAssignment(t *testing.T) {
	limit := 1
	m := New(measurementCfg(0.99, &limit), execCfg())
	m.ProcessBatch(0, 1, []SuccessEmbedding{{TrialID: 0, Vector: vec(1, 0)}})
	res := m.ProcessBatch(1, 1, []SuccessEmbedding{{TrialID: 1, Vector: vec(0, 1)}})
	if !res.Assignments[0].Forced {
		t.Fatal("expected forced=true once cluster_limit is reached")
	}
	if !res.Monitoring.ClusterMetrics.ClusterLimitHit {
		t.Fatal("expected cluster_limit_hit=true")
	}
}

func TestEnforcerConvergesAfterPatienceMetBatches(t *testing.T) {
	m := New(measurementCfg(0.99, nil), execCfg())
	identical := vec(1, 0)

	m.ProcessBatch(0, 2, []SuccessEmbedding{{TrialID: 0, Vector: identical}, {TrialID: 1, Vector: identical}})
	r1 := m.ProcessBatch(1, 2, []SuccessEmbedding{{TrialID: 2, Vector: identical}, {TrialID: 3, Vector: identical}})
	if r1.Monitoring.Stop.ShouldStop {
		t.Fatal("should not stop before patience consecutive met batches")
	}
	r2 := m.ProcessBatch(2, 2, []SuccessEmbedding{{TrialID: 4, Vector: identical}, {TrialID: 5, Vector: identical}})
	if !r2.Monitoring.Stop.ShouldStop {
		t.Fatal("expected should_stop=true after patience consecutive met batches")
	}
	if !m.Converged() {
		t.Fatal("expected Converged() to latch true")
	}
}

func TestAdvisorModeNeverSetsShouldStop(t *testing.T) {
	ec := execCfg()
	ec.StopMode = "advisor"
	m := New(measurementCfg(0.99, nil), ec)
	identical := vec(1, 0)
	for i := 0; i < 6; i++ {
		res := m.ProcessBatch(i, 2, []SuccessEmbedding{{TrialID: i * 2, Vector: identical}, {TrialID: i*2 + 1, Vector: identical}})
		if res.Monitoring.Stop.ShouldStop {
			t.Fatal("advisor mode must never set should_stop")
		}
	}
}

func TestEmptyBatchHasNullNoveltyMetrics(t *testing.T) {
	m := New(measurementCfg(0.9, nil), execCfg())
	m.ProcessBatch(0, 2, []SuccessEmbedding{{TrialID: 0, Vector: vec(1, 0)}})
	res := m.ProcessBatch(1, 2, nil)
	if res.Monitoring.HasEligibleInBatch {
		t.Fatal("expected has_eligible_in_batch=false for empty batch")
	}
	if res.Monitoring.NoveltyRate != nil || res.Monitoring.MeanMaxSimToPrior != nil {
		t.Fatal("expected null novelty metrics when batch has no eligible embeddings")
	}
}
