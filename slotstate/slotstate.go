// Package slotstate holds the per-Bounce-Unit record of slot progress:
// the current and last-committed slot index, the sub-slot phase, whether
// this BU has already signed or aggregated for the current slot, and the
// commits received so far. Slot state is side-effect-free: every
// transition is triggered explicitly by the owning Bounce Unit's event
// loop, never by a background goroutine, so no locking is needed here.
package slotstate

import (
	"github.com/cryptosat/bounce"
	"github.com/holiman/uint256"
)

// Phase is the sub-slot phase a Bounce Unit is in.
type Phase uint8

const (
	// Stop is the initial phase, before the flock's timer has ticked.
	Stop Phase = iota
	// First admits precommits only.
	First
	// Second admits both precommits and non-commits.
	Second
	// Third is record-only: a BU that has not yet signed emits a
	// non-commit here and records without signing thereafter.
	Third
)

// String renders the phase for logging.
func (p Phase) String() string {
	switch p {
	case Stop:
		return "stop"
	case First:
		return "first"
	case Second:
		return "second"
	case Third:
		return "third"
	default:
		return "unknown"
	}
}

// Supermajority returns T(n) = ceil(2n/3), the quorum size required to
// aggregate a slot. The accumulation runs through uint256.Int rather than
// machine ints, matching the teacher's overflow-safe idiom for quantity
// arithmetic (core/consensus); a future stake-weighted threshold can reuse
// the same accumulator without a rewrite.
func Supermajority(n int) int {
	t := uint256.NewInt(uint64(n))
	t.Mul(t, uint256.NewInt(2))
	t.Add(t, uint256.NewInt(2))
	t.Div(t, uint256.NewInt(3))
	return int(t.Uint64())
}

// Info is the slot state owned by a single Bounce Unit.
type Info struct {
	// I is the index of the current slot.
	I uint32
	// J is the last slot this BU observed or contributed a precommit for.
	// J only ever advances (safety-monotone-j): it is updated when the BU
	// learns of a precommit reaching supermajority for slot I, never
	// rolled back, and never advanced by non-commits (open question in
	// SPEC_FULL.md §9, resolved by following the source's behavior).
	J uint32
	// Phase is the current sub-slot phase.
	Phase Phase
	// Signed reports whether this BU has emitted its own (non-aggregate)
	// commit for slot I. Monotonic within a slot: becomes true at most
	// once per slot.
	Signed bool
	// Aggregated reports whether this BU has observed or produced an
	// aggregate commit for slot I. Once true, the BU emits nothing more
	// for this slot.
	Aggregated bool
	// Precommits and Noncommits are the ordered buffers of received
	// commits of each type for slot I. |Precommits|+|Noncommits| <= N at
	// all times.
	Precommits []bounce.Commit
	Noncommits []bounce.Commit
}

// New returns a freshly booted slot state: slot 0, phase Stop.
func New() *Info {
	return &Info{}
}

// Next advances to the next slot: increments I, resets Signed/Aggregated
// and the commit buffers, and sets Phase to First. Called on every
// First-phase timer tick.
func (s *Info) Next() {
	s.I++
	s.Phase = First
	s.Signed = false
	s.Aggregated = false
	s.Precommits = s.Precommits[:0]
	s.Noncommits = s.Noncommits[:0]
}

// Record appends c to the buffer matching c.Type.
func (s *Info) Record(c bounce.Commit) {
	if c.Type == bounce.Noncommit {
		s.Noncommits = append(s.Noncommits, c)
	} else {
		s.Precommits = append(s.Precommits, c)
	}
}
