package flock

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cryptosat/bounce"
	"github.com/cryptosat/bounce/crypto/bls"
	"github.com/cryptosat/bounce/log"
	"github.com/cryptosat/bounce/metrics"
)

func fastTestConfig(n uint32, modes map[uint32]FailureMode) Config {
	cfg := DefaultConfig()
	cfg.NumBounceUnits = n
	cfg.FailureModes = modes
	cfg.Slot = SlotConfig{SlotDuration: 2 * time.Second, Phase1Duration: 700 * time.Millisecond, Phase2Duration: 700 * time.Millisecond}
	return cfg
}

// Scenario 1: happy path, N=10, all Honest -- the coordinator returns a
// fresh, verifiable aggregate.
func TestCoordinatorHappyPathAggregatesSupermajority(t *testing.T) {
	cfg := fastTestConfig(10, nil)
	logger := log.New(0).Module("test")
	m, _ := metrics.New()
	coord, err := New(cfg, m, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		coord.Stop()
		coord.Wait()
	}()

	req := bounce.Commit{Type: bounce.Precommit, Msg: []byte("orbit-check"), PublicKey: []byte("ground-station")}
	result, err := coord.Bounce(ctx, req)
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if !result.Aggregated {
		t.Fatal("expected an aggregated commit")
	}
	if string(result.Msg) != "orbit-check" {
		t.Errorf("result.Msg = %q, want %q", result.Msg, "orbit-check")
	}

	pub, err := bls.UnmarshalPublicKey(result.PublicKey)
	if err != nil {
		t.Fatalf("UnmarshalPublicKey: %v", err)
	}
	sig, err := bls.UnmarshalSignature(result.Signature)
	if err != nil {
		t.Fatalf("UnmarshalSignature: %v", err)
	}
	if !bls.Verify(sig, result.Msg, pub) {
		t.Error("expected aggregate signature to verify")
	}

	if got := testutil.ToFloat64(m.SlotCurrent); got != float64(result.I) {
		t.Errorf("SlotCurrent = %v, want %v", got, result.I)
	}
	if got := testutil.ToFloat64(m.QuorumTotal.WithLabelValues(result.Type.String())); got != 1 {
		t.Errorf("QuorumTotal{type=%s} = %v, want 1", result.Type.String(), got)
	}
}

// A single Honest Bounce Unit (N=1) aggregates its own signature alone.
func TestCoordinatorLoneBounceUnit(t *testing.T) {
	cfg := fastTestConfig(1, nil)
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		coord.Stop()
		coord.Wait()
	}()

	result, err := coord.Bounce(ctx, bounce.Commit{Type: bounce.Precommit, Msg: []byte("ping"), PublicKey: []byte("ground-station")})
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if !result.Aggregated {
		t.Fatal("expected an aggregated commit")
	}
}

// Scenario 7: FailStop units do not block quorum, N=10 with 3 FailStop.
func TestCoordinatorFailStopDoesNotBlockQuorum(t *testing.T) {
	modes := map[uint32]FailureMode{7: FailStop, 8: FailStop, 9: FailStop}
	cfg := fastTestConfig(10, modes)
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		coord.Stop()
		coord.Wait()
	}()

	result, err := coord.Bounce(ctx, bounce.Commit{Type: bounce.Precommit, Msg: []byte("ping"), PublicKey: []byte("ground-station")})
	if err != nil {
		t.Fatalf("Bounce with 3 FailStop units: %v", err)
	}
	if !result.Aggregated {
		t.Fatal("expected an aggregated commit despite 3 FailStop units")
	}
}

// Scenario 8: FailArbitrary units (type-flipping) still mix into a quorum
// without preventing aggregation, N=10 with 2 FailArbitrary.
func TestCoordinatorFailArbitraryMixesIntoQuorum(t *testing.T) {
	modes := map[uint32]FailureMode{3: FailArbitrary, 6: FailArbitrary}
	cfg := fastTestConfig(10, modes)
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		coord.Stop()
		coord.Wait()
	}()

	result, err := coord.Bounce(ctx, bounce.Commit{Type: bounce.Precommit, Msg: []byte("ping"), PublicKey: []byte("ground-station")})
	if err != nil {
		t.Fatalf("Bounce with 2 FailArbitrary units: %v", err)
	}
	if !result.Aggregated {
		t.Fatal("expected an aggregated commit despite 2 FailArbitrary units")
	}
}

// Duplicate-slot guard: an aggregate at or below the last-returned slot is
// dropped, and Bounce keeps waiting for a fresher one. Exercised directly
// against the result fan-in, independent of any Bounce Unit goroutine.
func TestCoordinatorDropsDuplicateSlotAggregate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBounceUnits = 3
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coord.lastSlot = 5

	go func() {
		coord.resultC <- bounce.Commit{Aggregated: true, I: 5}
		coord.resultC <- bounce.Commit{Aggregated: true, I: 6}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := coord.Bounce(ctx, bounce.Commit{Type: bounce.Precommit, Msg: []byte("ping")})
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if result.I != 6 {
		t.Errorf("result.I = %d, want 6 (slot 5 duplicate dropped)", result.I)
	}
}

// Non-aggregate results read off the fan-in channel are gossiped back out
// to every Bounce Unit rather than returned to the caller.
func TestCoordinatorGossipsNonAggregateResults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBounceUnits = 2
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		coord.resultC <- bounce.Commit{Aggregated: false, I: 1, Msg: []byte("gossip-me")}
		coord.resultC <- bounce.Commit{Aggregated: true, I: 1}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := coord.Bounce(ctx, bounce.Commit{Type: bounce.Precommit, Msg: []byte("ping")})
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if !result.Aggregated {
		t.Fatal("expected the aggregate, not the gossiped commit, to be returned")
	}

	for _, u := range coord.units {
		found := false
		for _, gossiped := range drain(u.requestCh) {
			if string(gossiped.Msg) == "gossip-me" {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("bounce unit %d never saw the gossiped non-aggregate commit", u.id)
		}
	}
}

// Start is idempotent-safe against a double call, and Wait reports
// ErrCoordNotStarted before Start has ever run.
func TestCoordinatorLifecycleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBounceUnits = 2
	logger := log.New(0).Module("test")
	coord, err := New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := coord.Wait(); err != ErrCoordNotStarted {
		t.Errorf("Wait() before Start = %v, want ErrCoordNotStarted", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := coord.Start(ctx); err != ErrCoordAlreadyStarted {
		t.Errorf("second Start() = %v, want ErrCoordAlreadyStarted", err)
	}
	coord.Stop()
	coord.Wait()
}
