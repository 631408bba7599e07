// Package executor implements the Trial Executor and Batch Executor
// (spec.md §4.3): given a plan and a backend, it drives protocol.Runner
// per trial, parses the raw assistant text into a ParsedOutput,
// prepares embed-text, requests an embedding, and fans the whole batch
// out over a bounded worker pool.
//
// Grounded on the teacher's internal/attractor/engine/parallel_handlers.go
// dispatchParallelBranches: a job-channel + sync.WaitGroup worker pool,
// here driving trials instead of graph branches, with results collected
// into a slice indexed by position within the batch (entries arrive in
// plan order, so position order is ascending trial_id order).
package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/arbiterlab/arbiter/internal/record"
)

const ParserVersion = "arbiter-parser-1"

var whitespaceRun = regexp.MustCompile(`\s+`)

// decisionContractOutput is the structured shape the decision-contract
// clause asks the model for: {"outcome": ..., "rationale": ...}. Any
// other shape an instruction might ask for is still attempted via a
// best-effort top-level object decode; spec.md does not mandate a
// richer contract schema than this.
type decisionContractOutput struct {
	Outcome   string `json:"outcome"`
	Rationale string `json:"rationale"`
}

// Parse implements spec.md §4.3.4: try structured extraction first,
// then fall back to raw trimmed text, then fail on empty content. A JSON
// object whose outcome is empty is also a failure, with empty embed text.
// Extraction is the same whether or not a decision contract is set;
// hasDecisionContract is not consulted here, the contract policy is
// applied by the caller and the Artifact Writer to the parse_status.
func Parse(trialID int, rawText string, hasDecisionContract bool) record.ParsedOutput {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return record.ParsedOutput{
			TrialID:          trialID,
			ParseStatus:      record.ParseFailed,
			RawAssistantText: rawText,
			ParserVersion:    ParserVersion,
		}
	}

	if out, ok := tryDecodeContract(trimmed); ok {
		if strings.TrimSpace(out.Outcome) == "" {
			return record.ParsedOutput{
				TrialID:          trialID,
				ParseStatus:      record.ParseFailed,
				RawAssistantText: rawText,
				ParserVersion:    ParserVersion,
			}
		}
		return record.ParsedOutput{
			TrialID:          trialID,
			ParseStatus:      record.ParseSuccess,
			Outcome:          out.Outcome,
			Rationale:        out.Rationale,
			RawAssistantText: rawText,
			EmbedText:        out.Outcome,
			ExtractionMethod: "json_decision_contract",
			ParserVersion:    ParserVersion,
		}
	}

	return record.ParsedOutput{
		TrialID:          trialID,
		ParseStatus:      record.ParseFallback,
		Outcome:          trimmed,
		RawAssistantText: rawText,
		EmbedText:        trimmed,
		ExtractionMethod: "raw_fallback",
		ParserVersion:    ParserVersion,
	}
}

func tryDecodeContract(text string) (decisionContractOutput, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return decisionContractOutput{}, false
	}
	var out decisionContractOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return decisionContractOutput{}, false
	}
	return out, true
}

// PrepareEmbedText implements spec.md §4.3.4's single published
// normalization rule: lower-case, collapse whitespace, then truncate to
// maxChars by character count. Returns the normalized text and whether
// it is empty after normalization.
func PrepareEmbedText(text string, maxChars int) (normalized string, wasEmpty bool) {
	lower := strings.ToLower(text)
	collapsed := strings.TrimSpace(whitespaceRun.ReplaceAllString(lower, " "))
	if collapsed == "" {
		return "", true
	}
	if maxChars > 0 {
		runes := []rune(collapsed)
		if len(runes) > maxChars {
			collapsed = string(runes[:maxChars])
		}
	}
	return collapsed, collapsed == ""
}

// SelectEmbedText applies measurement.embed_text_strategy: outcome_only
// uses the parsed outcome text, full_text uses the raw assistant text.
func SelectEmbedText(strategy string, parsed record.ParsedOutput) string {
	if strategy == "full_text" {
		return parsed.RawAssistantText
	}
	if parsed.EmbedText != "" {
		return parsed.EmbedText
	}
	return parsed.Outcome
}
