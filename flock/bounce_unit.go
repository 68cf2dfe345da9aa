package flock

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/cryptosat/bounce"
	"github.com/cryptosat/bounce/crypto/bls"
	"github.com/cryptosat/bounce/log"
	"github.com/cryptosat/bounce/slotstate"
)

// BounceUnit is the event loop that processes timer ticks and incoming
// commits for a single satellite in the flock. It owns its slot state
// exclusively: no other goroutine ever touches it, so no locking is
// needed around it. The event loop is the sole realization of the
// protocol's safety and liveness invariants (spec §4.e, §8).
type BounceUnit struct {
	id          uint32
	n           uint32
	priv        *bls.PrivateKey
	pub         *bls.PublicKey
	pubBytes    []byte
	failureMode FailureMode

	slot *slotstate.Info

	requestCh <-chan bounce.Commit
	phaseCh   <-chan slotstate.Phase
	resultCh  chan<- bounce.Commit

	log *log.Logger
}

// NewBounceUnit creates a Bounce Unit with a freshly generated ephemeral
// keypair. id is this unit's identifier within the flock; n is the total
// flock size, used for supermajority threshold computation.
func NewBounceUnit(
	id, n uint32,
	resultCh chan<- bounce.Commit,
	requestCh <-chan bounce.Commit,
	phaseCh <-chan slotstate.Phase,
	mode FailureMode,
	logger *log.Logger,
) (*BounceUnit, error) {
	priv, pub, err := bls.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("flock: bounce unit %d: %w", id, err)
	}
	return &BounceUnit{
		id:          id,
		n:           n,
		priv:        priv,
		pub:         pub,
		pubBytes:    bls.MarshalPublicKey(pub),
		failureMode: mode,
		slot:        slotstate.New(),
		requestCh:   requestCh,
		phaseCh:     phaseCh,
		resultCh:    resultCh,
		log:         logger,
	}, nil
}

// Run multiplexes the two event sources -- phase ticks and inbound
// commits -- until ctx is cancelled or the request queue closes. Request
// queue closure is this Bounce Unit's exit signal (spec §4.e).
func (bu *BounceUnit) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-bu.phaseCh:
			if !ok {
				return
			}
			bu.onPhase(ctx, p)
		case c, ok := <-bu.requestCh:
			if !ok {
				return
			}
			bu.onCommit(ctx, c)
		}
	}
}

func (bu *BounceUnit) onPhase(ctx context.Context, p slotstate.Phase) {
	switch p {
	case slotstate.First:
		bu.slot.Next()
		bu.log.Info("slot start", "slot", bu.slot.I)
	case slotstate.Second:
		// No internal action: new commits may now be signed regardless
		// of type.
	case slotstate.Third:
		if !bu.slot.Signed && bu.failureMode != FailStop {
			msg := bounce.NoncommitMsg(bu.slot.J, bu.slot.I)
			c := bounce.Commit{Type: bounce.Noncommit, Msg: msg}
			signed, err := bu.signAndBroadcast(ctx, c)
			if err != nil {
				bu.log.Error("failed to sign forced non-commit", "slot", bu.slot.I, "err", err)
			} else {
				bu.slot.Noncommits = append(bu.slot.Noncommits, signed)
			}
		}
	case slotstate.Stop:
		// idle
	}
	bu.slot.Phase = p
}

func (bu *BounceUnit) onCommit(ctx context.Context, c bounce.Commit) {
	if bytes.Equal(c.PublicKey, bu.pubBytes) {
		return // loopback filter
	}
	if bu.slot.Phase == slotstate.Stop {
		return
	}
	if bu.slot.Aggregated {
		return
	}
	if c.Aggregated && c.I == bu.slot.I {
		bu.slot.Aggregated = true
		bu.slot.J = c.J
		return
	}

	switch bu.failureMode {
	case Honest:
		bu.processHonest(ctx, c)
	case FailArbitrary:
		bu.processFailArbitrary(ctx, c)
	case FailStop:
		// drop every commit; counts toward N but never toward T.
	}
}

// processHonest implements the Phase x Event table from spec §4.e.
func (bu *BounceUnit) processHonest(ctx context.Context, c bounce.Commit) {
	switch bu.slot.Phase {
	case slotstate.First:
		if c.Type != bounce.Precommit {
			return // ignore non-commits in First
		}
		if !bu.slot.Signed {
			signed, err := bu.signAndBroadcast(ctx, c)
			if err != nil {
				bu.log.Error("sign failed", "slot", bu.slot.I, "err", err)
				return
			}
			c = signed
		}
		bu.slot.Record(c)
	case slotstate.Second:
		if !bu.slot.Signed {
			signed, err := bu.signAndBroadcast(ctx, c)
			if err != nil {
				bu.log.Error("sign failed", "slot", bu.slot.I, "err", err)
				return
			}
			c = signed
		}
		bu.slot.Record(c)
	case slotstate.Third:
		bu.slot.Record(c) // record only; do not sign
	default:
		return
	}
	bu.checkQuorum(ctx)
}

// processFailArbitrary rewrites c.Type by an unbiased coin flip before
// otherwise behaving honestly. This exercises the coordinator's ability
// to resolve quorum under adversarial commit-type flipping while still
// producing a legitimate signature over the delivered payload.
func (bu *BounceUnit) processFailArbitrary(ctx context.Context, c bounce.Commit) {
	if rand.IntN(2) == 0 {
		c.Type = bounce.Precommit
	} else {
		c.Type = bounce.Noncommit
	}
	bu.processHonest(ctx, c)
}

// checkQuorum aggregates and broadcasts once either buffer reaches the
// supermajority threshold.
func (bu *BounceUnit) checkQuorum(ctx context.Context) {
	t := slotstate.Supermajority(int(bu.n))
	if len(bu.slot.Precommits) >= t {
		bu.aggregateAndBroadcast(ctx, bounce.Precommit, bu.slot.Precommits)
	} else if len(bu.slot.Noncommits) >= t {
		bu.aggregateAndBroadcast(ctx, bounce.Noncommit, bu.slot.Noncommits)
	}
}

// signAndBroadcast signs c.Msg, stamps slot/identity fields, marks
// slot.Signed, and enqueues the result. It returns the updated commit so
// the caller can record the exact value that was broadcast.
func (bu *BounceUnit) signAndBroadcast(ctx context.Context, c bounce.Commit) (bounce.Commit, error) {
	sig := bls.Sign(bu.priv, c.Msg)
	c.Signature = bls.MarshalSignature(sig)
	c.PublicKey = bu.pubBytes
	c.I = bu.slot.I
	c.SignerID = bu.id
	bu.slot.Signed = true
	bu.send(ctx, c)
	return c, nil
}

// aggregateAndBroadcast aggregates buf (which has already reached
// quorum) and enqueues the aggregate commit. BLS aggregation errors are
// fatal for this slot only: slot.Aggregated is left false and the Bounce
// Unit waits for the next phase tick.
func (bu *BounceUnit) aggregateAndBroadcast(ctx context.Context, typ bounce.CommitType, buf []bounce.Commit) {
	sigs := make([]*bls.Signature, 0, len(buf))
	pubs := make([]*bls.PublicKey, 0, len(buf))
	for _, c := range buf {
		sig, err := bls.UnmarshalSignature(c.Signature)
		if err != nil {
			bu.log.Error("malformed signature in buffer, skipping aggregation", "slot", bu.slot.I, "err", err)
			return
		}
		pub, err := bls.UnmarshalPublicKey(c.PublicKey)
		if err != nil {
			bu.log.Error("malformed public key in buffer, skipping aggregation", "slot", bu.slot.I, "err", err)
			return
		}
		sigs = append(sigs, sig)
		pubs = append(pubs, pub)
	}

	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		bu.log.Error("aggregate signatures failed", "slot", bu.slot.I, "err", err)
		return
	}
	aggPub, err := bls.AggregatePublicKeys(pubs)
	if err != nil {
		bu.log.Error("aggregate public keys failed", "slot", bu.slot.I, "err", err)
		return
	}

	out := bounce.Commit{
		Type:       typ,
		I:          bu.slot.I,
		J:          bu.slot.J,
		Msg:        buf[0].Msg,
		PublicKey:  bls.MarshalPublicKey(aggPub),
		Signature:  bls.MarshalSignature(aggSig),
		Aggregated: true,
		SignerID:   bu.id,
	}
	bu.slot.Aggregated = true
	if typ == bounce.Precommit {
		bu.slot.J = bu.slot.I
		out.J = bu.slot.I
	}
	bu.log.Info("aggregated supermajority", "slot", bu.slot.I, "type", typ.String(), "signers", len(buf))
	bu.send(ctx, out)
}

// send enqueues c on the result channel, giving up if ctx is cancelled
// first. A context cancellation here is the idiomatic Go equivalent of
// the result channel "closing": because the result channel has many
// concurrent Bounce Unit senders, it is never closed from a sender, only
// drained until every sender's context is done.
func (bu *BounceUnit) send(ctx context.Context, c bounce.Commit) {
	select {
	case bu.resultCh <- c:
	case <-ctx.Done():
	}
}
