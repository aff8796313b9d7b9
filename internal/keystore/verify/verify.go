// Package verify builds secp256r1 precompile instructions.
package verify

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/solana"
)

const (
	PublicKeySize = 33
	SignatureSize = 64
	DigestSize    = sha256.Size

	headerSize      = 12
	SignatureOffset = headerSize
	PublicKeyOffset = SignatureOffset + SignatureSize
	MessageOffset   = PublicKeyOffset + PublicKeySize
	DataSize        = MessageOffset + DigestSize

	// sentinel for instruction-index fields: data lives in this instruction
	currentInstruction = 0xff
)

// BuildData lays out one signature check. Header bytes:
//
//	[0]     signature count (1)
//	[1:3]   signature offset
//	[3]     0xff
//	[4:6]   public key offset
//	[6]     0xff
//	[7:9]   message offset
//	[9:11]  message length
//	[11]    0xff
//
// The message region holds SHA-256(message), not the message itself.
func BuildData(pubkey [PublicKeySize]byte, message []byte, sig [SignatureSize]byte) []byte {
	digest := sha256.Sum256(message)
	data := make([]byte, DataSize)
	data[0] = 1
	binary.LittleEndian.PutUint16(data[1:3], SignatureOffset)
	data[3] = currentInstruction
	binary.LittleEndian.PutUint16(data[4:6], PublicKeyOffset)
	data[6] = currentInstruction
	binary.LittleEndian.PutUint16(data[7:9], MessageOffset)
	binary.LittleEndian.PutUint16(data[9:11], DigestSize)
	data[11] = currentInstruction
	copy(data[SignatureOffset:], sig[:])
	copy(data[PublicKeyOffset:], pubkey[:])
	copy(data[MessageOffset:], digest[:])
	return data
}

func Instruction(pubkey [PublicKeySize]byte, message []byte, sig [SignatureSize]byte) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.Secp256r1ProgramID,
		Data:      BuildData(pubkey, message, sig),
	}
}

// CompressPublicKey accepts an uncompressed (65-byte, 0x04 prefix) or
// compressed (33-byte) P-256 point and returns the compressed form.
func CompressPublicKey(raw []byte) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	switch {
	case len(raw) == PublicKeySize:
		copy(out[:], raw)
		return out, ValidateCompressed(out)
	case len(raw) == 65 && raw[0] == 0x04:
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return out, contracts.Validationf("public key is not a P-256 point: %v", err)
		}
		out[0] = 0x02 | (raw[64] & 1)
		copy(out[1:], raw[1:33])
		return out, nil
	default:
		return out, contracts.Validationf("unsupported public key length %d", len(raw))
	}
}

// ValidateCompressed checks the prefix and that the point is on P-256.
func ValidateCompressed(key [PublicKeySize]byte) error {
	if key[0] != 0x02 && key[0] != 0x03 {
		return contracts.Validationf("compressed key prefix 0x%02x", key[0])
	}
	if _, err := decompress(key); err != nil {
		return contracts.Validationf("public key is not a P-256 point: %v", err)
	}
	return nil
}

// decompress returns the 65-byte uncompressed encoding of key.
func decompress(key [PublicKeySize]byte) ([]byte, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), key[:])
	if x == nil {
		return nil, errors.New("invalid compressed point")
	}
	out := make([]byte, 65)
	out[0] = 0x04
	x.FillBytes(out[1:33])
	y.FillBytes(out[33:])
	if _, err := ecdh.P256().NewPublicKey(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decompress is the inverse of CompressPublicKey.
func Decompress(key [PublicKeySize]byte) ([]byte, error) {
	out, err := decompress(key)
	if err != nil {
		return nil, contracts.Validationf("public key is not a P-256 point: %v", err)
	}
	return out, nil
}
