// Package cluster implements Arbiter's Clustering Monitor (spec.md
// §4.4): online single-pass leader clustering over successful
// embeddings, novelty metrics against the growing set of priors, and
// the convergence stop decision the Batch Executor polls between
// batches.
//
// Grounded on internal/vecmath (cosine similarity, entropy, JS
// divergence, the float32le_base64 codec) built for this purpose; the
// leader-clustering/novelty/stop algorithm follows spec.md §4.4
// directly since the teacher has no analogous online-clustering
// component.
package cluster

import (
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/vecmath"
)

type clusterState struct {
	centroid []float32
	members  int
}

// Monitor accumulates embeddings across batches and produces one
// MonitoringRecord (plus zero-or-more ClusterAssignments) per batch.
type Monitor struct {
	cfg config.MeasurementConfig
	execCfg config.ExecutionConfig

	priors           [][]float32 // all successful vectors from previous batches
	clusters         []clusterState
	prevDistribution []int

	forcedCumulative int
	consecutiveMet   int
	shouldStopLatch  bool
}

// New returns a Monitor configured from the run's measurement/execution settings.
func New(cfg config.MeasurementConfig, execCfg config.ExecutionConfig) *Monitor {
	return &Monitor{cfg: cfg, execCfg: execCfg}
}

// BatchResult is everything one ProcessBatch call produces.
type BatchResult struct {
	Monitoring  record.MonitoringRecord
	Assignments []record.ClusterAssignment
}

// SuccessEmbedding is one batch member's embedding, already decoded,
// paired with its trial_id for assignment ordering.
type SuccessEmbedding struct {
	TrialID int
	Vector  []float32
}

// ProcessBatch implements spec.md §4.4: novelty metrics over the prior
// set, then leader clustering (if enabled) over batchEmbeddings sorted
// ascending by trial_id, which the caller must already guarantee.
func (m *Monitor) ProcessBatch(batchNumber, kAttempted int, batchEmbeddings []SuccessEmbedding) BatchResult {
	hasEligible := len(batchEmbeddings) > 0

	var noveltyRate, meanMaxSim *float64
	if hasEligible && len(m.priors) > 0 {
		var sumMax float64
		belowThreshold := 0
		for _, e := range batchEmbeddings {
			maxSim := 0.0
			for _, p := range m.priors {
				if s := vecmath.CosineSimilarity(e.Vector, p); s > maxSim {
					maxSim = s
				}
			}
			sumMax += maxSim
			if maxSim < m.cfg.NoveltyThreshold {
				belowThreshold++
			}
		}
		mean := sumMax / float64(len(batchEmbeddings))
		rate := float64(belowThreshold) / float64(len(batchEmbeddings))
		meanMaxSim = &mean
		noveltyRate = &rate
	}

	var assignments []record.ClusterAssignment
	clusteringEnabled := m.cfg.Clustering.Enabled
	clustersBefore := len(m.clusters)
	forcedThisBatch := 0
	limitHit := false

	if clusteringEnabled {
		for _, e := range batchEmbeddings {
			cid, forced, hitLimit := m.assign(e.Vector)
			if forced {
				forcedThisBatch++
				m.forcedCumulative++
			}
			if hitLimit {
				limitHit = true
			}
			assignments = append(assignments, record.ClusterAssignment{
				TrialID:     e.TrialID,
				ClusterID:   cid,
				BatchNumber: batchNumber,
				Forced:      forced,
			})
		}
	}

	// Priors grow by this batch's successes only after novelty metrics
	// are computed against the prior set, per spec.md §4.4.
	for _, e := range batchEmbeddings {
		m.priors = append(m.priors, e.Vector)
	}

	kEligible := len(m.priors)

	stop := m.evaluateStop(hasEligible, kEligible, noveltyRate, meanMaxSim)

	mr := record.MonitoringRecord{
		BatchNumber:        batchNumber,
		KAttempted:         kAttempted,
		KEligible:          kEligible,
		HasEligibleInBatch: hasEligible,
		NoveltyRate:        noveltyRate,
		MeanMaxSimToPrior:  meanMaxSim,
		Stop:               stop,
	}

	if clusteringEnabled {
		mr.ClusterMetrics = m.clusterMetrics(clustersBefore, forcedThisBatch, limitHit)
	}

	return BatchResult{Monitoring: mr, Assignments: assignments}
}

func (m *Monitor) assign(v []float32) (clusterID int, forced bool, limitHit bool) {
	if len(m.clusters) == 0 {
		m.clusters = append(m.clusters, clusterState{centroid: v, members: 1})
		return 0, false, false
	}

	best, bestSim := -1, -1.0
	for i, c := range m.clusters {
		if s := vecmath.CosineSimilarity(v, c.centroid); s > bestSim {
			best, bestSim = i, s
		}
	}

	tau := m.cfg.Clustering.Tau
	if bestSim >= tau {
		m.updateCentroid(best, v)
		return best, false, false
	}

	limit := m.cfg.Clustering.ClusterLimit
	if limit != nil && len(m.clusters) >= *limit {
		m.updateCentroid(best, v)
		return best, true, true
	}

	m.clusters = append(m.clusters, clusterState{centroid: v, members: 1})
	return len(m.clusters) - 1, false, false
}

func (m *Monitor) updateCentroid(idx int, v []float32) {
	c := &m.clusters[idx]
	switch m.cfg.Clustering.CentroidUpdateRule {
	case "ema":
		alpha := m.cfg.Clustering.EMAAlpha
		if alpha <= 0 {
			alpha = 0.2
		}
		next := make([]float32, len(c.centroid))
		for i := range next {
			next[i] = float32((1-alpha)*float64(c.centroid[i]) + alpha*float64(v[i]))
		}
		c.centroid = vecmath.Normalize(next)
	default: // running_mean
		n := float64(c.members)
		next := make([]float32, len(c.centroid))
		for i := range next {
			next[i] = float32((float64(c.centroid[i])*n + float64(v[i])) / (n + 1))
		}
		c.centroid = next
	}
	c.members++
}

func (m *Monitor) clusterMetrics(clustersBefore, forcedThisBatch int, limitHit bool) *record.ClusterMetrics {
	dist := make([]int, len(m.clusters))
	total := 0
	singletons := 0
	largest := 0
	for i, c := range m.clusters {
		dist[i] = c.members
		total += c.members
		if c.members == 1 {
			singletons++
		}
		if c.members > largest {
			largest = c.members
		}
	}
	entropy := vecmath.Entropy(dist)
	var share float64
	if total > 0 {
		share = float64(largest) / float64(total)
	}

	var js *float64
	if v, ok := vecmath.JSDivergenceLog2(m.prevDistribution, dist); ok {
		js = &v
	}
	m.prevDistribution = append([]int(nil), dist...)

	return &record.ClusterMetrics{
		ClusterCount:               len(m.clusters),
		NewClustersThisBatch:       len(m.clusters) - clustersBefore,
		LargestClusterShare:        share,
		ClusterDistribution:        dist,
		Entropy:                    entropy,
		EffectiveClusterCount:      vecmath.EffectiveCount(entropy),
		SingletonCount:             singletons,
		JSDivergence:               js,
		ClusterLimitHit:            limitHit,
		ForcedAssignmentsThisBatch: forcedThisBatch,
		ForcedAssignmentsTotal:     m.forcedCumulative,
	}
}

func (m *Monitor) evaluateStop(hasEligible bool, kEligible int, noveltyRate, meanMaxSim *float64) record.StopDecision {
	mode := m.execCfg.StopMode
	met := hasEligible &&
		kEligible >= m.execCfg.KMin &&
		noveltyRate != nil && *noveltyRate <= m.execCfg.StopPolicy.NoveltyEpsilon &&
		meanMaxSim != nil && *meanMaxSim >= m.execCfg.StopPolicy.SimilarityThreshold

	if met {
		m.consecutiveMet++
	} else {
		m.consecutiveMet = 0
	}

	wouldStop := m.consecutiveMet >= m.execCfg.StopPolicy.Patience
	shouldStop := wouldStop && mode == "enforcer"
	if shouldStop {
		m.shouldStopLatch = true
	}

	reason := ""
	if shouldStop {
		reason = "converged"
	}

	return record.StopDecision{
		Mode:       mode,
		WouldStop:  wouldStop,
		ShouldStop: shouldStop,
		StopReason: reason,
	}
}

// Converged reports whether the enforcer stop condition has ever fired;
// the Batch Executor's cancellation oracle consults this between
// batches once stop_mode=enforcer.
func (m *Monitor) Converged() bool {
	return m.shouldStopLatch
}

// EligibleCount returns the current k_eligible (successful embeddings seen so far).
func (m *Monitor) EligibleCount() int {
	return len(m.priors)
}

// ClusterCountSnapshot returns member counts per cluster id, for
// clusters.state.json.
func (m *Monitor) ClusterCountSnapshot() (centroids [][]float32, members []int) {
	centroids = make([][]float32, len(m.clusters))
	members = make([]int, len(m.clusters))
	for i, c := range m.clusters {
		centroids[i] = append([]float32(nil), c.centroid...)
		members[i] = c.members
	}
	return centroids, members
}
