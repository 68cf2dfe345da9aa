// Package bounce defines the Commit wire type shared by every bounce-flock
// component: the Bounce Unit event loop, the Flock coordinator, the RPC
// server, and the ground-station driver.
package bounce

import "fmt"

// CommitType discriminates a precommit (endorsing a ground-station payload)
// from a non-commit (an explicit refusal to commit a slot). The zero value
// is Precommit, matching the wire default when the field is absent.
type CommitType uint8

const (
	// Precommit endorses the payload in Msg.
	Precommit CommitType = iota
	// Noncommit explicitly refuses to commit the slot; Msg carries the
	// canonical string "noncommit(j+1,i)".
	Noncommit
)

// String renders the commit type for logging.
func (t CommitType) String() string {
	switch t {
	case Precommit:
		return "precommit"
	case Noncommit:
		return "noncommit"
	default:
		return "unknown"
	}
}

// Commit is a signed assertion about a slot: either an endorsement of a
// ground-station payload (Precommit) or a refusal to commit (Noncommit).
// Commit is a plain value type: copyable, comparable by field, with no
// behavior beyond (de)serialization.
//
// Invariant (wire): Verify(Signature, Msg, PublicKey) holds.
// Invariant (aggregate): if Aggregated, PublicKey/Signature decode as the
// pointwise sum/product of the constituent signers' keys/signatures and
// still verify against Msg.
type Commit struct {
	Type       CommitType `json:"typ"`
	I          uint32     `json:"i"`
	J          uint32     `json:"j"`
	Msg        []byte     `json:"msg"`
	PublicKey  []byte     `json:"public_key"`
	Signature  []byte     `json:"signature"`
	Aggregated bool       `json:"aggregated"`
	SignerID   uint32     `json:"signer_id"`
}

// NoncommitMsg returns the canonical non-commit payload for a slot whose
// last-committed index is j, currently at slot i.
func NoncommitMsg(j, i uint32) []byte {
	return []byte(fmt.Sprintf("noncommit(%d,%d)", j+1, i))
}
