// Package message encodes the action and nonce that device keys sign.
package message

import (
	"encoding/binary"

	"keystore/go-backend/internal/solana"
)

const (
	TagSend         byte = 0
	TagSetThreshold byte = 1
)

// Action is one of Send or SetThreshold. The set is closed: the verifier
// decodes the same one-byte tag independently.
type Action interface {
	Tag() byte
	appendFields(dst []byte) []byte
}

type Send struct {
	To       solana.PublicKey
	Lamports uint64
}

func (Send) Tag() byte { return TagSend }

func (a Send) appendFields(dst []byte) []byte {
	dst = append(dst, a.To[:]...)
	return binary.LittleEndian.AppendUint64(dst, a.Lamports)
}

type SetThreshold struct {
	Threshold uint8
}

func (SetThreshold) Tag() byte { return TagSetThreshold }

func (a SetThreshold) appendFields(dst []byte) []byte {
	return append(dst, a.Threshold)
}

// EncodeAction writes the tag and the variant fields. The execute
// instruction carries this encoding without the nonce.
func EncodeAction(action Action) []byte {
	out := make([]byte, 0, 1+solana.PublicKeySize+8)
	out = append(out, action.Tag())
	return action.appendFields(out)
}

// Build returns the exact bytes to sign for action at the given on-chain nonce.
func Build(action Action, nonce uint64) []byte {
	return binary.LittleEndian.AppendUint64(EncodeAction(action), nonce)
}

// Stale reports whether a message built at builtNonce can no longer execute.
// The program compares for exact equality, so any difference is stale.
func Stale(builtNonce, chainNonce uint64) bool {
	return builtNonce != chainNonce
}
