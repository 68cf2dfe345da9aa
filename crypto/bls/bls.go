// Package bls implements BLS signing, verification, and aggregation over
// the BN-256 pairing-friendly curve for the bounce flock protocol.
//
// Public keys live in G2, signatures in G1, matching the convention that
// keeps signatures (the value broadcast most often) in the smaller group.
// Message hashing reduces the message to a scalar and multiplies the G1
// generator by it; this keeps every group operation backed by the real
// curve arithmetic in golang.org/x/crypto/bn256 rather than a placeholder,
// at the cost of using a non-injective "hash-to-scalar, then to-curve"
// step instead of a full hash-to-curve map.
package bls

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bn256"
)

// Errors returned by this package. Sign/Verify/Aggregate failures are
// per-operation and never panic.
var (
	ErrBLSEmptyAggregate = errors.New("bls: cannot aggregate zero elements")
	ErrBLSInvalidPoint   = errors.New("bls: malformed curve point")
)

// PrivateKey is a BN-256 scalar in [1, Order).
type PrivateKey = big.Int

// PublicKey is a point in G2.
type PublicKey = bn256.G2

// Signature is a point in G1.
type Signature = bn256.G1

// g2Generator returns the canonical G2 base point.
func g2Generator() *bn256.G2 {
	return new(bn256.G2).ScalarBaseMult(big.NewInt(1))
}

// GenerateKey derives a fresh ephemeral keypair using crypto/rand. Private
// keys are never persisted per the flock's ephemeral-key policy.
func GenerateKey() (*PrivateKey, *PublicKey, error) {
	priv, pub, err := bn256.RandomG2(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("bls: generate key: %w", err)
	}
	return priv, pub, nil
}

// DerivePublic returns the public key corresponding to priv.
func DerivePublic(priv *PrivateKey) *PublicKey {
	return new(bn256.G2).ScalarBaseMult(priv)
}

// hashToG1 maps a message to a point in G1 by reducing its SHA-256 digest
// modulo the group order and scalar-multiplying the G1 generator.
func hashToG1(msg []byte) *bn256.G1 {
	h := sha256.Sum256(msg)
	s := new(big.Int).SetBytes(h[:])
	s.Mod(s, bn256.Order)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	return new(bn256.G1).ScalarBaseMult(s)
}

// Sign signs msg with priv, returning a signature in G1.
func Sign(priv *PrivateKey, msg []byte) *Signature {
	h := hashToG1(msg)
	return new(bn256.G1).ScalarMult(h, priv)
}

// Verify reports whether sig is a valid signature over msg under pub.
// Failure (on a malformed or mismatched input) is reported as a plain
// false; callers that need to distinguish "malformed" from "doesn't
// verify" should check inputs before calling Verify.
func Verify(sig *Signature, msg []byte, pub *PublicKey) bool {
	if sig == nil || pub == nil {
		return false
	}
	h := hashToG1(msg)
	lhs := bn256.Pair(sig, g2Generator())
	rhs := bn256.Pair(h, pub)
	return bytes.Equal(lhs.Marshal(), rhs.Marshal())
}

// AggregateSignatures sums signatures by G1 point addition. Aggregation is
// associative and commutative by the group law, so callers may aggregate
// incrementally or all at once with the same result.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, ErrBLSEmptyAggregate
	}
	acc := sigs[0]
	for _, s := range sigs[1:] {
		acc = new(bn256.G1).Add(acc, s)
	}
	return acc, nil
}

// AggregatePublicKeys sums public keys by G2 point addition.
func AggregatePublicKeys(pubs []*PublicKey) (*PublicKey, error) {
	if len(pubs) == 0 {
		return nil, ErrBLSEmptyAggregate
	}
	acc := pubs[0]
	for _, p := range pubs[1:] {
		acc = new(bn256.G2).Add(acc, p)
	}
	return acc, nil
}

// MarshalSignature encodes a signature for the wire.
func MarshalSignature(sig *Signature) []byte { return sig.Marshal() }

// UnmarshalSignature decodes a signature from the wire.
func UnmarshalSignature(b []byte) (*Signature, error) {
	sig := new(bn256.G1)
	if _, err := sig.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBLSInvalidPoint, err)
	}
	return sig, nil
}

// MarshalPublicKey encodes a public key for the wire.
func MarshalPublicKey(pub *PublicKey) []byte { return pub.Marshal() }

// UnmarshalPublicKey decodes a public key from the wire.
func UnmarshalPublicKey(b []byte) (*PublicKey, error) {
	pub := new(bn256.G2)
	if _, err := pub.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBLSInvalidPoint, err)
	}
	return pub, nil
}
