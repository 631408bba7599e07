package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/schema"
)

// finalize implements spec.md §4.5's manifest finalization rule. It is
// called exactly once, from either onRunCompleted or onRunFailed, and
// always leaves behind a valid (if incomplete=true) manifest.json even
// when validation of the finalized manifest itself fails.
func (w *Writer) finalize(completedAtMS int64, stopReason string) error {
	if w.provenance == nil {
		reason := "no_embeddings_generated"
		if stopReason == "error" && len(w.lastTrialStatus) == 0 {
			reason = "run_failed_before_embeddings"
		}
		w.provenance = &record.EmbeddingProvenance{Status: "not_generated", Reason: reason}
		if err := writeJSONAtomic(filepath.Join(w.dir, "embeddings.provenance.json"), *w.provenance); err != nil {
			return err
		}
	}

	w.manifest.CompletedAt = completedAtMS
	w.manifest.StopReason = stopReason
	w.manifest.Incomplete = stopReason == "user_interrupt" || stopReason == "error"
	w.manifest.KAttempted = len(w.lastTrialStatus)
	w.manifest.KEligible = w.embedSuccess

	if w.cfg.Protocol.DecisionContract != nil && w.cfg.Protocol.DecisionContract.Policy == "fail" && (w.contractFallback+w.contractFailed) > 0 {
		w.manifest.StopReason = "error"
		w.manifest.Incomplete = true
		w.manifest.Notes = append(w.manifest.Notes, fmt.Sprintf("Contract parse failures: fallback=%d, failed=%d", w.contractFallback, w.contractFailed))
	}

	w.pruneDebugEmbeddings()
	w.manifest.Artifacts = w.buildArtifactsList()
	w.manifest.Integrity = w.computeIntegrity()

	if err := w.validate(schema.Manifest, w.manifest); err != nil {
		w.manifest.Warnings = append(w.manifest.Warnings, err.Error())
	}

	return writeJSONAtomic(filepath.Join(w.dir, "manifest.json"), w.manifest)
}

// pruneDebugEmbeddings removes debug/embeddings.jsonl when it turns out
// to be neither requested nor the run's only durable embeddings record,
// per spec.md §5's resource policy.
func (w *Writer) pruneDebugEmbeddings() {
	keep := w.cfg.Output.DebugEmbeddings || (w.provenance != nil && w.provenance.Status == "jsonl_fallback")
	if keep || w.debugEmbed == nil {
		return
	}
	path := filepath.Join(w.dir, "debug", "embeddings.jsonl")
	w.debugEmbed.Close()
	w.debugEmbed = nil
	os.Remove(path)
}

// computeIntegrity BLAKE3-fingerprints config.resolved.json and the four
// core JSONL logs (after flushing their buffered writers), as a fast
// cross-check alongside the manifest's spec-mandated SHA-256 content
// hashes (plan_sha256, config_sha256, embed_text_sha256 on individual
// records).
func (w *Writer) computeIntegrity() map[string]string {
	for _, f := range []*jsonlWriter{w.trialPlan, w.trials, w.parsed, w.convergence} {
		if f != nil {
			_ = f.w.Flush()
		}
	}
	candidates := []string{"config.resolved.json", "trial_plan.jsonl", "trials.jsonl", "parsed.jsonl", "convergence_trace.jsonl"}
	out := make(map[string]string, len(candidates))
	for _, rel := range candidates {
		digest, err := blake3HexFile(filepath.Join(w.dir, rel))
		if err != nil {
			continue
		}
		out[rel] = digest
	}
	return out
}
