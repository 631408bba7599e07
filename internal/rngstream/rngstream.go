// Package rngstream implements Arbiter's deterministic, seedable random
// streams. The scheme is the teacher's sha256-seeded jitter trick from
// engine/backoff.go (jitterUnit), generalized from a single draw into a
// refillable stream: rng(seed, label, i) must be a pure function of its
// inputs so that planner(config_with_fixed_seed) is bit-identical
// across runs.
package rngstream

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Stream produces a deterministic sequence of floats in [0,1) derived
// from (seed, label, i). Two streams with different labels (or
// different i) are independent in the sense that neither can be
// derived from the other without recomputing the hash.
type Stream struct {
	seed    string
	label   string
	index   int
	counter uint64
}

// New returns the stream rng(seed, label, i). seed may be any value
// stringified with fmt.Sprint (ResolvedConfig.run.seed is an integer
// or a string); the stringification is part of the deterministic
// contract, so callers must not change how seed values print.
func New(seed any, label string, i int) *Stream {
	return &Stream{seed: fmt.Sprint(seed), label: label, index: i}
}

// Float64 draws the next value in [0,1).
func (s *Stream) Float64() float64 {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", s.seed, s.label, s.index, s.counter)))
	s.counter++
	u := binary.BigEndian.Uint64(digest[:8])
	return float64(u) / float64(math.MaxUint64)
}

// Uniform draws a value uniformly distributed in [lo, hi]. If hi <= lo
// it returns lo.
func (s *Stream) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.Float64()*(hi-lo)
}

// WeightedIndex performs weighted sampling over cumulative thresholds:
// it draws a target in [0, total) and returns the index of the first
// element whose cumulative weight is >= target, skipping
// non-positive-weight elements entirely so the result is invariant
// under reordering of zero-weight items. Returns -1 if every weight is
// <= 0.
func (s *Stream) WeightedIndex(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	target := s.Float64() * total
	cum := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		if cum >= target {
			return i
		}
	}
	// Floating point edge case: return the last positive-weight index.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}
