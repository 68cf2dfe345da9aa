package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cryptosat/bounce/flock"
)

// uint32ListValue implements flag.Value for a comma-separated list of
// uint32 ids, matching the original CLI's "multiple(true)" index lists
// (-fail-arbitrary, -fail-stop).
type uint32ListValue struct {
	ids *[]uint32
}

func (v *uint32ListValue) String() string {
	if v.ids == nil || len(*v.ids) == 0 {
		return ""
	}
	parts := make([]string, len(*v.ids))
	for i, id := range *v.ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func (v *uint32ListValue) Set(s string) error {
	if s == "" {
		*v.ids = nil
		return nil
	}
	fields := strings.Split(s, ",")
	ids := make([]uint32, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid bounce unit id %q: %w", f, err)
		}
		ids = append(ids, uint32(n))
	}
	*v.ids = ids
	return nil
}

// slotConfigValue implements flag.Value for the three-element
// "slot,phase1,phase2" seconds list (-slot-config).
type slotConfigValue struct {
	cfg *flock.SlotConfig
}

func (v *slotConfigValue) String() string {
	if v.cfg == nil {
		return "10,4,4"
	}
	return fmt.Sprintf("%d,%d,%d",
		int(v.cfg.SlotDuration.Seconds()),
		int(v.cfg.Phase1Duration.Seconds()),
		int(v.cfg.Phase2Duration.Seconds()))
}

func (v *slotConfigValue) Set(s string) error {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return fmt.Errorf("slot-config expects exactly 3 elements, got %d", len(fields))
	}
	secs := make([]int, 3)
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return fmt.Errorf("invalid slot-config element %q: %w", f, err)
		}
		secs[i] = n
	}
	v.cfg.SlotDuration = time.Duration(secs[0]) * time.Second
	v.cfg.Phase1Duration = time.Duration(secs[1]) * time.Second
	v.cfg.Phase2Duration = time.Duration(secs[2]) * time.Second
	return nil
}

// cliFlags holds the raw values newFlagSet binds flags into, before
// BuildFailureModes/Config assembly in run().
type cliFlags struct {
	addr           string
	port           int
	numBounceUnits uint
	failArbitrary  []uint32
	failStop       []uint32
	slot           flock.SlotConfig
	logDir         string
	logToStdout    bool
}

// newFlagSet creates the flock binary's flag.FlagSet, matching the
// teacher's newFlagSet/ContinueOnError convention.
func newFlagSet(f *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("flock", flag.ContinueOnError)
	fs.StringVar(&f.addr, "addr", "0.0.0.0", "listen address")
	fs.IntVar(&f.port, "port", 50051, "listen port")
	fs.UintVar(&f.numBounceUnits, "num-bounce-units", 5, "number of bounce units in this flock")
	fs.UintVar(&f.numBounceUnits, "n", 5, "shorthand for -num-bounce-units")
	fs.Var(&uint32ListValue{ids: &f.failArbitrary}, "fail-arbitrary", "comma-separated bounce unit ids to run as FailArbitrary")
	fs.Var(&uint32ListValue{ids: &f.failStop}, "fail-stop", "comma-separated bounce unit ids to run as FailStop")
	f.slot = flock.DefaultSlotConfig()
	fs.Var(&slotConfigValue{cfg: &f.slot}, "slot-config", "slot_duration,phase1_duration,phase2_duration in seconds")
	fs.StringVar(&f.logDir, "log-dir", "log", "directory to save rotating log files")
	fs.BoolVar(&f.logToStdout, "log-to-stdout", false, "log only to stdout instead of a log-dir file")
	return fs
}
