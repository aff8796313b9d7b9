// Package signature normalizes device signatures and collects them for one
// pending action.
package signature

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/account"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	Size       = 64
	scalarSize = 32
)

// P-256 group order.
var (
	curveOrder, _ = new(big.Int).SetString("ffffffff00000000ffffffffffffffffbce6faada7179e84f3b9cac2fc632551", 16)
	halfOrder     = new(big.Int).Rsh(curveOrder, 1)
)

// NormalizeDER converts SEQUENCE{INTEGER r, INTEGER s} into fixed r||s.
// A 64-byte input is taken as already normalized unless it is itself a
// well-formed DER sequence, which short r and s values can produce.
func NormalizeDER(sig []byte) ([Size]byte, error) {
	if len(sig) == Size {
		if sig[0] == 0x30 && int(sig[1]) == Size-2 {
			if out, err := parseDER(sig); err == nil {
				return out, nil
			}
		}
		var out [Size]byte
		copy(out[:], sig)
		return out, nil
	}
	return parseDER(sig)
}

func parseDER(sig []byte) ([Size]byte, error) {
	var out [Size]byte
	var (
		input = cryptobyte.String(sig)
		seq   cryptobyte.String
		r, s  cryptobyte.String
	)
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return out, contracts.Validationf("signature is not a DER sequence")
	}
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return out, contracts.Validationf("signature sequence must hold exactly two integers")
	}
	if err := putScalar(out[:scalarSize], r); err != nil {
		return out, fmt.Errorf("r: %w", err)
	}
	if err := putScalar(out[scalarSize:], s); err != nil {
		return out, fmt.Errorf("s: %w", err)
	}
	return out, nil
}

// putScalar left-pads v into dst, dropping leading zero bytes beyond 32.
func putScalar(dst []byte, v []byte) error {
	for len(v) > scalarSize {
		if v[0] != 0 {
			return contracts.Validationf("integer longer than %d bytes", scalarSize)
		}
		v = v[1:]
	}
	copy(dst[scalarSize-len(v):], v)
	return nil
}

// LowS rewrites s to n-s when s is in the upper half of the order. The
// secp256r1 precompile rejects high-s signatures.
func LowS(sig [Size]byte) [Size]byte {
	s := new(big.Int).SetBytes(sig[scalarSize:])
	if s.Cmp(halfOrder) <= 0 {
		return sig
	}
	s.Sub(curveOrder, s)
	out := sig
	s.FillBytes(out[scalarSize:])
	return out
}

type Signer struct {
	KeyIndex  uint8
	Signature [Size]byte
}

// Aggregator collects signatures for a single pending action.
type Aggregator struct {
	mu      sync.Mutex
	signers map[uint8][Size]byte
}

func NewAggregator() *Aggregator {
	return &Aggregator{signers: make(map[uint8][Size]byte)}
}

// Add normalizes sig (DER or raw r||s) and records it for keyIndex.
func (a *Aggregator) Add(keyIndex uint8, sig []byte) error {
	normalized, err := NormalizeDER(sig)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.signers[keyIndex]; ok {
		return fmt.Errorf("%w: key index %d", contracts.ErrDuplicateSigner, keyIndex)
	}
	a.signers[keyIndex] = LowS(normalized)
	return nil
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signers)
}

// Finalize returns the collected signers ordered by key index.
func (a *Aggregator) Finalize() []Signer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Signer, 0, len(a.signers))
	for idx, sig := range a.signers {
		out = append(out, Signer{KeyIndex: idx, Signature: sig})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyIndex < out[j].KeyIndex })
	return out
}

// CheckAgainst is a local pre-check against the identity's current state.
// The program stays authoritative; this only avoids paying for a doomed
// submission.
func (a *Aggregator) CheckAgainst(identity *account.Identity) error {
	return Check(a.Finalize(), identity)
}

func Check(signers []Signer, identity *account.Identity) error {
	if identity == nil {
		return contracts.Validationf("identity account is required")
	}
	seen := make(map[uint8]struct{}, len(signers))
	for _, s := range signers {
		if _, dup := seen[s.KeyIndex]; dup {
			return fmt.Errorf("%w: key index %d", contracts.ErrDuplicateSigner, s.KeyIndex)
		}
		seen[s.KeyIndex] = struct{}{}
		if int(s.KeyIndex) >= len(identity.Keys) {
			return contracts.Validationf("key index %d out of range for %d keys", s.KeyIndex, len(identity.Keys))
		}
	}
	if len(signers) < int(identity.Threshold) {
		return fmt.Errorf("%w: have %d, threshold %d", contracts.ErrInsufficientSignatures, len(signers), identity.Threshold)
	}
	return nil
}
