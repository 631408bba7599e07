// Package protocol implements the Independent and Debate_v1 protocol
// state machines (spec.md §4.3.1): given one PlanEntry, it drives the
// backend call(s) that produce a trial's raw_assistant_text and call/
// transcript history.
//
// Grounded on the teacher's internal/attractor/engine state-machine
// style (explicit {turn, round, slot} state structs with a terminal
// status, engine/handlers.go) and its per-call retry loop
// (engine/backoff.go, now internal/retry), adapted from a DAG-step
// executor into a fixed two-protocol dispatcher.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arbiterlab/arbiter/internal/backend"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/retry"
)

const (
	// Prompt keys looked up in ProtocolConfig.Prompts. A persona's own
	// prompt text is keyed "persona.<persona_id>"; missing keys fall
	// back to the bare ID/role name so a minimal config still runs.
	promptKeyProtocolSystem      = "system"
	promptKeyProposerSystem      = "proposer_system"
	promptKeyCriticSystem        = "critic_system"
	promptKeyProposerFinalSystem = "proposer_final_system"
)

// TrialOutcome is everything the Trial Executor folds into a TrialRecord.
type TrialOutcome struct {
	Status           record.TrialStatus
	ActualModel      string
	Calls            []record.CallRecord
	Transcript       []record.TranscriptTurn
	RawAssistantText string
	Usage            *record.CallUsage
	Error            *record.TrialError
}

// Runner drives one trial's protocol state machine against a backend.
type Runner struct {
	Backend backend.Backend
	RunID   string
}

// Run executes entry's protocol to completion or first unrecoverable
// failure. ctx should already carry the orchestrator's shutdown signal;
// Run composes it with the protocol's total_trial_ms budget.
func (r *Runner) Run(ctx context.Context, entry record.PlanEntry, cfg *config.ResolvedConfig, question string) TrialOutcome {
	total := time.Duration(cfg.Protocol.Timeouts.TotalTrialMS) * time.Millisecond
	var cancel context.CancelFunc
	if total > 0 {
		ctx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}

	switch cfg.Protocol.Type {
	case "debate_v1":
		return r.runDebate(ctx, entry, cfg, question)
	default:
		return r.runIndependent(ctx, entry, cfg, question)
	}
}

func (r *Runner) runIndependent(ctx context.Context, entry record.PlanEntry, cfg *config.ResolvedConfig, question string) TrialOutcome {
	persona := promptFor(cfg, "persona."+entry.AssignedConfig.PersonaID, entry.AssignedConfig.PersonaID)
	system := joinSystem(persona, promptFor(cfg, promptKeyProtocolSystem, ""))

	messages := []backend.Message{
		{Role: "system", Text: system},
		{Role: "user", Text: question},
	}

	resp, callRecord, status, trialErr := r.callWithRetry(ctx, entry, 0, entry.AssignedConfig.ModelSlug, messages, cfg)
	calls := []record.CallRecord{callRecord}
	if status != record.TrialSuccess {
		return TrialOutcome{Status: status, Calls: calls, Error: trialErr}
	}
	return TrialOutcome{
		Status:           record.TrialSuccess,
		ActualModel:      resp.ActualModel,
		Calls:            calls,
		RawAssistantText: resp.Text,
		Usage:            usageFromCalls(calls),
	}
}

func (r *Runner) runDebate(ctx context.Context, entry record.PlanEntry, cfg *config.ResolvedConfig, question string) TrialOutcome {
	slots := orderedSlots(entry.RoleAssignments)
	if len(slots) == 0 {
		return TrialOutcome{Status: record.TrialStatusError, Error: &record.TrialError{Code: "config_invalid", Message: "debate_v1 trial has no role_assignments"}}
	}
	roleBySlot := make(map[string]record.RoleAssignment, len(slots))
	for _, ra := range entry.RoleAssignments {
		roleBySlot[ra.Slot] = ra
	}

	var transcript []record.TranscriptTurn
	var calls []record.CallRecord
	turn := 0
	callIndex := 0

	rounds := cfg.Protocol.Rounds
	if rounds < 1 {
		rounds = 1
	}

	for round := 1; round <= rounds; round++ {
		for _, slot := range slots {
			ra := roleBySlot[slot]
			roleSystem := promptKeyProposerSystem
			if slot != "A" {
				roleSystem = promptKeyCriticSystem
			}
			persona := promptFor(cfg, "persona."+ra.PersonaID, ra.PersonaID)
			system := joinSystem(persona, promptFor(cfg, roleSystem, ""))

			messages := []backend.Message{
				{Role: "system", Text: system},
				{Role: "user", Text: buildDebateUserMessage(question, transcript)},
			}

			resp, callRecord, status, trialErr := r.callWithRetry(ctx, entry, callIndex, ra.ModelSlug, messages, cfg)
			callRecord.Slot, callRecord.Round = slot, round
			calls = append(calls, callRecord)
			callIndex++
			if status != record.TrialSuccess {
				return TrialOutcome{Status: status, Calls: calls, Transcript: transcript, Error: trialErr, Usage: usageFromCalls(calls)}
			}

			turn++
			transcript = append(transcript, record.TranscriptTurn{Turn: turn, Slot: slot, Content: resp.Text})
		}
	}

	finalSlotRA := roleBySlot["A"]
	persona := promptFor(cfg, "persona."+finalSlotRA.PersonaID, finalSlotRA.PersonaID)
	system := joinSystem(persona, promptFor(cfg, promptKeyProposerFinalSystem, ""))
	if cfg.Protocol.DecisionContract != nil {
		clause := strings.TrimSpace(cfg.Protocol.DecisionContract.Clause)
		if clause != "" {
			system = system + "\n\n" + clause
		}
	}

	messages := []backend.Message{
		{Role: "system", Text: system},
		{Role: "user", Text: buildDebateUserMessage(question, transcript)},
	}

	resp, callRecord, status, trialErr := r.callWithRetry(ctx, entry, callIndex, finalSlotRA.ModelSlug, messages, cfg)
	callRecord.Slot, callRecord.Final = "A", true
	calls = append(calls, callRecord)
	if status != record.TrialSuccess {
		return TrialOutcome{Status: status, Calls: calls, Transcript: transcript, Error: trialErr, Usage: usageFromCalls(calls)}
	}

	return TrialOutcome{
		Status:           record.TrialSuccess,
		ActualModel:      resp.ActualModel,
		Calls:            calls,
		Transcript:       transcript,
		RawAssistantText: resp.Text,
		Usage:            usageFromCalls(calls),
	}
}

// callWithRetry drives one backend.Chat call to success or exhausted
// retries, enforcing min(per_call_ms, remaining trial budget) per
// attempt via a derived context. The trial's retry_count on the
// returned CallRecord counts retries of THIS call only, never across
// calls, per spec.md §4.3.2.
func (r *Runner) callWithRetry(ctx context.Context, entry record.PlanEntry, callIndex int, modelSlug string, messages []backend.Message, cfg *config.ResolvedConfig) (backend.ChatResponse, record.CallRecord, record.TrialStatus, *record.TrialError) {
	maxRetries := cfg.Protocol.Timeouts.PerCallMaxRetries
	policy := retry.Policy{
		MaxRetries:     maxRetries,
		InitialDelayMS: cfg.Execution.RetryPolicy.BackoffMS,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
		Jitter:         false,
	}
	if policy.InitialDelayMS <= 0 {
		policy.InitialDelayMS = 200
	}

	perCall := time.Duration(cfg.Protocol.Timeouts.PerCallMS) * time.Millisecond

	var lastResp backend.ChatResponse
	retryCount := 0

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return backend.ChatResponse{}, record.CallRecord{ModelSlug: modelSlug, RetryCount: retryCount, ErrorCode: "shutdown_abort", ErrorMessage: err.Error()},
				record.TrialShutdownAbort, &record.TrialError{Code: "shutdown_abort", Message: err.Error()}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if perCall > 0 {
			callCtx, cancel = context.WithTimeout(ctx, perCall)
		}
		resp, err := r.Backend.Chat(callCtx, backend.ChatRequest{
			Model:    modelSlug,
			Messages: messages,
			Retry:    backend.RetryOptions{MaxRetries: maxRetries},
		})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			cr := record.CallRecord{
				ModelSlug:      modelSlug,
				ActualModel:    resp.ActualModel,
				RequestPayload: resp.RequestPayload,
				ResponseBody:   resp.ResponseBody,
				LatencyMS:      resp.LatencyMS,
				RetryCount:     retryCount,
				Usage: &record.CallUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
					Cost:             resp.Usage.CostUSD,
				},
			}
			return resp, cr, record.TrialSuccess, nil
		}

		lastResp = resp

		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			cr := record.CallRecord{ModelSlug: modelSlug, RetryCount: retryCount, ErrorCode: "timeout_exhausted", ErrorMessage: err.Error()}
			return lastResp, cr, record.TrialTimeoutExhausted, &record.TrialError{Code: "timeout_exhausted", Message: err.Error()}
		}

		if backend.IsModelUnavailable(err) {
			cr := record.CallRecord{ModelSlug: modelSlug, RetryCount: retryCount, ErrorCode: "model_unavailable", ErrorMessage: err.Error()}
			return lastResp, cr, record.TrialModelUnavailable, &record.TrialError{Code: "model_unavailable", Message: err.Error()}
		}

		var be backend.Error
		retryable := errors.As(err, &be) && be.Retryable()
		if !retryable || attempt >= maxRetries {
			cr := record.CallRecord{ModelSlug: modelSlug, RetryCount: retryCount, ErrorCode: "call_failed", ErrorMessage: err.Error()}
			return lastResp, cr, record.TrialStatusError, &record.TrialError{Code: "call_failed", Message: err.Error()}
		}

		retryCount++
		delay := retry.DelayForAttempt(retryCount, policy, retry.CallSeed(r.RunID, entry.TrialID, callIndex, retryCount))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			cr := record.CallRecord{ModelSlug: modelSlug, RetryCount: retryCount, ErrorCode: "shutdown_abort", ErrorMessage: ctx.Err().Error()}
			return backend.ChatResponse{}, cr, record.TrialShutdownAbort, &record.TrialError{Code: "shutdown_abort", Message: ctx.Err().Error()}
		case <-timer.C:
		}
	}
}

func usageFromCalls(calls []record.CallRecord) *record.CallUsage {
	total := &record.CallUsage{}
	any := false
	for _, c := range calls {
		if c.Usage == nil {
			continue
		}
		any = true
		total.PromptTokens += c.Usage.PromptTokens
		total.CompletionTokens += c.Usage.CompletionTokens
		total.TotalTokens += c.Usage.TotalTokens
	}
	if !any {
		return nil
	}
	return total
}

func promptFor(cfg *config.ResolvedConfig, key, fallback string) string {
	if cfg.Protocol.Prompts != nil {
		if v, ok := cfg.Protocol.Prompts[key]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}

func joinSystem(persona, protocolSystem string) string {
	persona = strings.TrimSpace(persona)
	protocolSystem = strings.TrimSpace(protocolSystem)
	switch {
	case persona == "":
		return protocolSystem
	case protocolSystem == "":
		return persona
	default:
		return persona + "\n---\n" + protocolSystem
	}
}

func buildDebateUserMessage(question string, transcript []record.TranscriptTurn) string {
	var sb strings.Builder
	sb.WriteString(question)
	for _, t := range transcript {
		sb.WriteString(fmt.Sprintf("\n\nTurn %d [%s]: %s", t.Turn, t.Slot, t.Content))
	}
	return sb.String()
}

// orderedSlots returns debate slots with "A" first and the remainder in
// lexicographic order, per spec.md §4.3.1's tie-break rule.
func orderedSlots(roles []record.RoleAssignment) []string {
	seen := map[string]bool{}
	var others []string
	hasA := false
	for _, r := range roles {
		if seen[r.Slot] {
			continue
		}
		seen[r.Slot] = true
		if r.Slot == "A" {
			hasA = true
			continue
		}
		others = append(others, r.Slot)
	}
	sort.Strings(others)
	if !hasA {
		return others
	}
	return append([]string{"A"}, others...)
}
