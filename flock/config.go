package flock

import (
	"errors"
	"fmt"
	"time"
)

// FailureMode is the runtime behavior switch assigned to a Bounce Unit at
// flock construction. Expressed as a tagged enumeration rather than an
// interface because the variant set is closed and known at boot.
type FailureMode uint8

const (
	// Honest follows the protocol exactly.
	Honest FailureMode = iota
	// FailArbitrary relabels every inbound commit's type by an unbiased
	// coin flip before otherwise behaving honestly.
	FailArbitrary
	// FailStop drops every inbound commit and emits nothing. Counts
	// toward N but never toward the supermajority threshold T.
	FailStop
)

// String renders the failure mode for logging and flag parsing errors.
func (m FailureMode) String() string {
	switch m {
	case Honest:
		return "honest"
	case FailArbitrary:
		return "fail-arbitrary"
	case FailStop:
		return "fail-stop"
	default:
		return "unknown"
	}
}

// Errors returned by configuration validation. All are fatal at boot.
var (
	ErrConfigNoBounceUnits   = errors.New("flock: num_bounce_units must be >= 1")
	ErrConfigPhasesTooLong   = errors.New("flock: phase1_duration + phase2_duration must be < slot_duration")
	ErrConfigIDOutOfRange    = errors.New("flock: failure-mode bounce unit id out of range")
	ErrConfigOverlappingMode = errors.New("flock: a bounce unit cannot be both fail-arbitrary and fail-stop")
)

// SlotConfig is the slot/phase timing configuration shared by the phase
// timer and every Bounce Unit.
type SlotConfig struct {
	SlotDuration   time.Duration
	Phase1Duration time.Duration
	Phase2Duration time.Duration
}

// DefaultSlotConfig matches the reference flock binary's default
// "10,4,4" second slot-config list.
func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		SlotDuration:   10 * time.Second,
		Phase1Duration: 4 * time.Second,
		Phase2Duration: 4 * time.Second,
	}
}

// Validate enforces the phase1+phase2 < slot precondition required for
// First < Second < Third ordering within a slot.
func (c SlotConfig) Validate() error {
	if c.Phase1Duration+c.Phase2Duration >= c.SlotDuration {
		return ErrConfigPhasesTooLong
	}
	return nil
}

// Config is the structured boot configuration for a flock.
type Config struct {
	NumBounceUnits uint32
	Slot           SlotConfig
	// FailureModes maps bounce unit id to its assigned FailureMode.
	// Unlisted ids default to Honest.
	FailureModes map[uint32]FailureMode
	Addr         string
	Port         int
	LogDir       string
	LogToStdout  bool
}

// DefaultConfig returns a 5-unit, all-Honest flock configuration.
func DefaultConfig() Config {
	return Config{
		NumBounceUnits: 5,
		Slot:           DefaultSlotConfig(),
		FailureModes:   map[uint32]FailureMode{},
		Addr:           "0.0.0.0",
		Port:           50051,
		LogDir:         "log",
	}
}

// Validate checks at least one bounce unit, phase ordering, and in-range
// failure-mode ids. It does not check disjointness of the fail-arbitrary
// and fail-stop sets; BuildFailureModes rejects an overlapping id.
func (c Config) Validate() error {
	if c.NumBounceUnits < 1 {
		return ErrConfigNoBounceUnits
	}
	if err := c.Slot.Validate(); err != nil {
		return err
	}
	for id := range c.FailureModes {
		if id >= c.NumBounceUnits {
			return fmt.Errorf("%w: id %d, num_bounce_units %d", ErrConfigIDOutOfRange, id, c.NumBounceUnits)
		}
	}
	return nil
}

// BuildFailureModes merges fail-arbitrary and fail-stop id lists into a
// single map, rejecting an id that appears in both sets (fatal
// configuration error per spec §4.g).
func BuildFailureModes(failArbitrary, failStop []uint32) (map[uint32]FailureMode, error) {
	modes := make(map[uint32]FailureMode, len(failArbitrary)+len(failStop))
	for _, id := range failArbitrary {
		modes[id] = FailArbitrary
	}
	for _, id := range failStop {
		if _, exists := modes[id]; exists {
			return nil, fmt.Errorf("%w: bounce unit %d", ErrConfigOverlappingMode, id)
		}
		modes[id] = FailStop
	}
	return modes, nil
}
