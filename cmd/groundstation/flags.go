package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// groundstationFlags holds the raw CLI values for the reference client.
type groundstationFlags struct {
	addr          string
	message       string
	slot          uint32
	lastCommitted uint32
	timeout       time.Duration
}

// uint32Value implements flag.Value for a single uint32 flag, matching
// the teacher's own uint64Value pattern for types flag.FlagSet lacks
// built-in support for.
type uint32Value struct {
	p *uint32
}

func (v *uint32Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v *uint32Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid uint32 value %q", s)
	}
	*v.p = uint32(n)
	return nil
}

func newGroundstationFlagSet(f *groundstationFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("groundstation", flag.ContinueOnError)
	fs.StringVar(&f.addr, "flock-addr", "127.0.0.1:50051", "address of a running flock's RPC server")
	fs.StringVar(&f.message, "message", "ping", "payload to precommit")
	f.slot = 1
	fs.Var(&uint32Value{p: &f.slot}, "slot", "slot index to submit the precommit for")
	fs.Var(&uint32Value{p: &f.lastCommitted}, "last-committed", "last slot index this ground station last observed committed")
	fs.DurationVar(&f.timeout, "timeout", 15*time.Second, "HTTP client timeout for the Bounce call")
	return fs
}
