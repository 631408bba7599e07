package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/protocol"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/vecmath"
)

// TrialResult bundles everything one trial produces, ready for the
// Batch Executor to publish in the §4.3.6 event order.
type TrialResult struct {
	Trial     record.TrialRecord
	Parsed    record.ParsedOutput
	Embedding record.EmbeddingRecord
}

// TrialRunner executes one plan entry end to end: protocol state
// machine, parsing, embed-text preparation, and the embedding call.
type TrialRunner struct {
	Backend backend.Backend
	RunID   string
	Cfg     *config.ResolvedConfig
}

// Run drives entry to completion: it runs the protocol, parses the raw
// assistant text, and records the embedding outcome. The executor itself
// does not read wall-clock time.
func (tr *TrialRunner) Run(ctx context.Context, entry record.PlanEntry) TrialResult {
	runner := &protocol.Runner{Backend: tr.Backend, RunID: tr.RunID}
	outcome := runner.Run(ctx, entry, tr.Cfg, tr.Cfg.Question.Text)

	trial := record.TrialRecord{
		TrialID:            entry.TrialID,
		RequestedModelSlug: entry.AssignedConfig.ModelSlug,
		ActualModel:        outcome.ActualModel,
		Protocol:           entry.Protocol,
		Status:             outcome.Status,
		AssignedConfig:     entry.AssignedConfig,
		RoleAssignments:    entry.RoleAssignments,
		Calls:              outcome.Calls,
		Transcript:         outcome.Transcript,
		RawAssistantText:   outcome.RawAssistantText,
		Usage:              outcome.Usage,
		Error:              outcome.Error,
	}

	hasContract := tr.Cfg.Protocol.DecisionContract != nil
	parsed := Parse(entry.TrialID, outcome.RawAssistantText, hasContract)

	embedding, embedSummary := tr.embed(ctx, entry, trial, parsed, hasContract)
	trial.EmbeddingSummary = embedSummary

	return TrialResult{Trial: trial, Parsed: parsed, Embedding: embedding}
}

func (tr *TrialRunner) embed(ctx context.Context, entry record.PlanEntry, trial record.TrialRecord, parsed record.ParsedOutput, hasContract bool) (record.EmbeddingRecord, record.EmbeddingSummary) {
	if trial.Status != record.TrialSuccess {
		return skippedEmbedding(entry.TrialID, record.SkipTrialNotSuccess)
	}

	if hasContract && tr.Cfg.Protocol.DecisionContract.Policy == "exclude" && parsed.ParseStatus != record.ParseSuccess {
		return skippedEmbedding(entry.TrialID, record.SkipContractParseExcluded)
	}

	strategy := tr.Cfg.Measurement.EmbedTextStrategy
	rawEmbedText := SelectEmbedText(strategy, parsed)
	normalized, wasEmpty := PrepareEmbedText(rawEmbedText, tr.Cfg.Measurement.EmbeddingMaxChars)
	textSHA := embedTextSHA256(rawEmbedText)

	if wasEmpty {
		return skippedEmbeddingWithHash(entry.TrialID, record.SkipEmptyEmbedText, textSHA)
	}

	resp, err := tr.Backend.Embed(ctx, backend.EmbedRequest{Model: tr.Cfg.Measurement.EmbeddingModel, Text: normalized})
	if err != nil {
		rec := record.EmbeddingRecord{
			TrialID:         entry.TrialID,
			EmbeddingStatus: record.EmbeddingFailed,
			EmbedTextSHA256: textSHA,
			ErrorMessage:    err.Error(),
		}
		return rec, record.EmbeddingSummary{Status: string(record.EmbeddingFailed)}
	}

	vec := vecmath.Normalize(resp.Vector)
	rec := record.EmbeddingRecord{
		TrialID:         entry.TrialID,
		EmbeddingStatus: record.EmbeddingSuccess,
		VectorB64:       vecmath.EncodeFloat32LEBase64(vec),
		Dtype:           "float32",
		Encoding:        "float32le_base64",
		Dimensions:      len(vec),
		EmbedTextSHA256: textSHA,
	}
	return rec, record.EmbeddingSummary{Status: string(record.EmbeddingSuccess), GenerationID: resp.GenerationID}
}

func skippedEmbedding(trialID int, reason string) (record.EmbeddingRecord, record.EmbeddingSummary) {
	return skippedEmbeddingWithHash(trialID, reason, embedTextSHA256(""))
}

func skippedEmbeddingWithHash(trialID int, reason, textSHA string) (record.EmbeddingRecord, record.EmbeddingSummary) {
	rec := record.EmbeddingRecord{
		TrialID:         trialID,
		EmbeddingStatus: record.EmbeddingSkipped,
		SkipReason:      reason,
		EmbedTextSHA256: textSHA,
	}
	return rec, record.EmbeddingSummary{Status: string(record.EmbeddingSkipped), SkipReason: reason}
}

func embedTextSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
