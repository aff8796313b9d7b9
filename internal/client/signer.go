package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Signer is a device key. Sign is expected to prompt the user (biometric
// or otherwise) and return an ECDSA P-256 signature over SHA-256(message),
// DER or raw r||s.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// Device binds a signer to the key index it occupies on the identity.
type Device struct {
	KeyIndex uint8
	Signer   Signer
}

// SoftwareSigner keeps a P-256 key in memory. It stands in for secure
// hardware in tooling and tests.
type SoftwareSigner struct {
	key *ecdsa.PrivateKey
}

func NewSoftwareSigner() (*SoftwareSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	return &SoftwareSigner{key: key}, nil
}

func SoftwareSignerFromKey(key *ecdsa.PrivateKey) *SoftwareSigner {
	return &SoftwareSigner{key: key}
}

func (s *SoftwareSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// PublicKey returns the uncompressed SEC1 encoding.
func (s *SoftwareSigner) PublicKey() ([]byte, error) {
	pub, err := s.key.PublicKey.ECDH()
	if err != nil {
		return nil, err
	}
	return pub.Bytes(), nil
}

func (s *SoftwareSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}
