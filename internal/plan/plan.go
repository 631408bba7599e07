// Package plan implements Arbiter's Planner (spec.md §4.2): a pure
// function from ResolvedConfig to an ordered list of PlanEntry plus a
// content hash of that list. Same seed and config must always produce
// byte-identical output; the Planner performs no I/O.
//
// Grounded on internal/rngstream for the seeded-stream sampling scheme
// and internal/canon for the plan_sha256 canonical-JSON hash, both
// built for this purpose; the weighted-sampling/decode-range logic is
// new, following spec.md §4.2's algorithm directly since the teacher
// has no equivalent (its graph DSL is user-authored, not sampled).
package plan

import (
	"fmt"
	"sort"

	"github.com/arbiterlab/arbiter/internal/canon"
	"github.com/arbiterlab/arbiter/internal/config"
	"github.com/arbiterlab/arbiter/internal/record"
	"github.com/arbiterlab/arbiter/internal/rngstream"
)

// Result is the Planner's output: the ordered plan plus its content hash.
type Result struct {
	Entries    []record.PlanEntry
	PlanSHA256 string
}

// Build runs the deterministic planning algorithm over cfg, producing
// exactly cfg.Execution.KMax entries with ascending trial_id.
func Build(cfg *config.ResolvedConfig) (Result, error) {
	kMax := cfg.Execution.KMax
	if kMax == 0 {
		hash, err := canon.SHA256Hex([]record.PlanEntry{})
		if err != nil {
			return Result{}, fmt.Errorf("plan: hash empty plan: %w", err)
		}
		return Result{Entries: nil, PlanSHA256: hash}, nil
	}
	if kMax < 0 {
		return Result{}, fmt.Errorf("plan: execution.k_max must be >= 0")
	}
	if len(cfg.Sampling.Models) == 0 {
		return Result{}, fmt.Errorf("plan: sampling.models must be non-empty")
	}
	if len(cfg.Sampling.Personas) == 0 {
		return Result{}, fmt.Errorf("plan: sampling.personas must be non-empty")
	}
	if len(cfg.Sampling.Protocols) == 0 {
		return Result{}, fmt.Errorf("plan: sampling.protocols must be non-empty")
	}

	seed := cfg.Run.Seed
	entries := make([]record.PlanEntry, 0, kMax)

	modelWeights := make([]float64, len(cfg.Sampling.Models))
	for i, m := range cfg.Sampling.Models {
		modelWeights[i] = m.Weight
	}
	personaWeights := make([]float64, len(cfg.Sampling.Personas))
	for i, p := range cfg.Sampling.Personas {
		personaWeights[i] = p.Weight
	}
	protocolWeights := make([]float64, len(cfg.Sampling.Protocols))
	for i := range cfg.Sampling.Protocols {
		protocolWeights[i] = 1
	}

	decodeKeys := sortedDecodeKeys(cfg.Sampling.Decode)

	for i := 0; i < kMax; i++ {
		planStream := rngstream.New(seed, "plan", i)
		decodeStream := rngstream.New(seed, "decode", i)

		modelIdx := planStream.WeightedIndex(modelWeights)
		if modelIdx < 0 {
			return Result{}, fmt.Errorf("plan: sampling.models has no positive weight")
		}
		personaIdx := planStream.WeightedIndex(personaWeights)
		if personaIdx < 0 {
			return Result{}, fmt.Errorf("plan: sampling.personas has no positive weight")
		}
		protocolIdx := planStream.WeightedIndex(protocolWeights)
		if protocolIdx < 0 {
			return Result{}, fmt.Errorf("plan: sampling.protocols has no positive weight")
		}

		modelSlug := cfg.Sampling.Models[modelIdx].Slug
		personaID := cfg.Sampling.Personas[personaIdx].ID
		protocolName := cfg.Sampling.Protocols[protocolIdx]

		decode := make(map[string]float64, len(decodeKeys))
		for _, k := range decodeKeys {
			decode[k] = sampleDecodeParam(cfg.Sampling.Decode[k], decodeStream)
		}

		entry := record.PlanEntry{
			TrialID:  i,
			Protocol: protocolName,
			AssignedConfig: record.AssignedConfig{
				ModelSlug:      modelSlug,
				PersonaID:      personaID,
				ProtocolPrompt: protocolName,
				Decode:         decode,
			},
		}

		if protocolName == "debate_v1" {
			entry.RoleAssignments = buildRoleAssignments(cfg, planStream)
		}

		entries = append(entries, entry)
	}

	hash, err := canon.SHA256Hex(entries)
	if err != nil {
		return Result{}, fmt.Errorf("plan: hash plan: %w", err)
	}

	return Result{Entries: entries, PlanSHA256: hash}, nil
}

// buildRoleAssignments samples one {model, persona} pair per
// participant slot, in alphabetic slot order (A, B, ...), continuing to
// draw from planStream so the per-trial stream stays a pure function
// of (seed, i) regardless of protocol.
func buildRoleAssignments(cfg *config.ResolvedConfig, planStream *rngstream.Stream) []record.RoleAssignment {
	participants := cfg.Protocol.Participants
	if len(participants) == 0 {
		participants = []string{"A", "B"}
	}
	slots := make([]string, len(participants))
	copy(slots, participants)
	sort.Strings(slots)

	modelWeights := make([]float64, len(cfg.Sampling.Models))
	for i, m := range cfg.Sampling.Models {
		modelWeights[i] = m.Weight
	}
	personaWeights := make([]float64, len(cfg.Sampling.Personas))
	for i, p := range cfg.Sampling.Personas {
		personaWeights[i] = p.Weight
	}

	roles := make([]record.RoleAssignment, 0, len(slots))
	for _, slot := range slots {
		mi := planStream.WeightedIndex(modelWeights)
		pi := planStream.WeightedIndex(personaWeights)
		if mi < 0 || pi < 0 {
			continue
		}
		roles = append(roles, record.RoleAssignment{
			Slot:      slot,
			ModelSlug: cfg.Sampling.Models[mi].Slug,
			PersonaID: cfg.Sampling.Personas[pi].ID,
		})
	}
	return roles
}

func sampleDecodeParam(p config.DecodeParamConfig, stream *rngstream.Stream) float64 {
	if p.IsRange() {
		return stream.Uniform(*p.Min, *p.Max)
	}
	if p.Scalar != nil {
		return *p.Scalar
	}
	return 0
}

func sortedDecodeKeys(decode map[string]config.DecodeParamConfig) []string {
	keys := make([]string, 0, len(decode))
	for k := range decode {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
