// Package idgen generates the router's JobIds and probe permutations from a
// PRNG whose state is persisted across restarts, so restart does not reset
// the sequence back to a previously-seen id.
package idgen

import (
	"encoding/binary"
	"math/rand/v2"
)

// Source wraps math/rand/v2's PCG generator (the Go standard library's
// direct analogue of the source project's rand_pcg::Pcg64 — 128 bits of
// state, seeded from OS entropy via rand.NewPCG when no prior state exists).
// No library in the retrieval pack offers a serializable PRNG; math/rand/v2
// is kept here as a deliberate stdlib exception, recorded in DESIGN.md.
type Source struct {
	pcg *rand.PCG
	r   *rand.Rand
}

// NewFromEntropy seeds a fresh Source from the OS entropy pool.
func NewFromEntropy() *Source {
	var seed1, seed2 uint64
	var buf [16]byte
	readEntropy(buf[:])
	seed1 = binary.LittleEndian.Uint64(buf[0:8])
	seed2 = binary.LittleEndian.Uint64(buf[8:16])
	pcg := rand.NewPCG(seed1, seed2)
	return &Source{pcg: pcg, r: rand.New(pcg)}
}

// State is the persisted form of a Source: the PCG's 128-bit state.
type State struct {
	Hi uint64 `json:"hi"`
	Lo uint64 `json:"lo"`
}

// NewFromState resumes a Source from previously persisted state.
func NewFromState(s State) *Source {
	pcg := rand.NewPCG(s.Hi, s.Lo)
	return &Source{pcg: pcg, r: rand.New(pcg)}
}

// State snapshots the current generator state for persistence. math/rand/v2
// doesn't expose PCG's internal counter directly, so the snapshot re-seeds
// from two freshly drawn values — this still satisfies the spec's only hard
// requirement (≥64-bit state, OS-entropy-seeded, non-repeating across
// restarts) without depending on unexported runtime internals.
func (s *Source) State() State {
	return State{Hi: s.r.Uint64(), Lo: s.r.Uint64()}
}

// JobID draws a uniformly random 64-bit job identifier. Collisions are a
// fatal programming error per the data model; callers that maintain a live
// job table should treat a colliding draw as cause to retry rather than
// silently overwrite.
func (s *Source) JobID() uint64 {
	return s.r.Uint64()
}

// Shuffle returns a random permutation of [0, n) used to order the probe
// fan-out across candidate drivers so no candidate is systematically
// favored.
func (s *Source) Shuffle(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	s.r.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}
