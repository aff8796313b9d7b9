package solana

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"keystore/go-backend/internal/contracts"

	"github.com/mr-tron/base58"
)

const (
	PublicKeySize = 32
	SignatureSize = 64
	HashSize      = 32
)

var (
	SystemProgramID      = MustPublicKey("11111111111111111111111111111111")
	SysvarInstructionsID = MustPublicKey("Sysvar1nstructions1111111111111111111111111")
	Secp256r1ProgramID   = MustPublicKey("Secp256r1SigVerify1111111111111111111111111")
)

// PublicKey is a 32-byte account address.
type PublicKey [PublicKeySize]byte

type Signature [SignatureSize]byte

// Hash is a recent blockhash.
type Hash [HashSize]byte

func PublicKeyFromBase58(s string) (PublicKey, error) {
	var out PublicKey
	if err := decodeFixed(s, out[:], "address"); err != nil {
		return PublicKey{}, err
	}
	return out, nil
}

func MustPublicKey(s string) PublicKey {
	key, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return key
}

func PublicKeyFromEd25519(pub ed25519.PublicKey) PublicKey {
	var out PublicKey
	copy(out[:], pub)
	return out
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := PublicKeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func SignatureFromBase58(s string) (Signature, error) {
	var out Signature
	if err := decodeFixed(s, out[:], "signature"); err != nil {
		return Signature{}, err
	}
	return out, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func HashFromBase58(s string) (Hash, error) {
	var out Hash
	if err := decodeFixed(s, out[:], "blockhash"); err != nil {
		return Hash{}, err
	}
	return out, nil
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func decodeFixed(s string, dst []byte, what string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return contracts.Validationf("%s is empty", what)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return contracts.Validationf("invalid %s encoding: %v", what, err)
	}
	if len(raw) != len(dst) {
		return contracts.Validationf("invalid %s length %d, want %d", what, len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}

// KeypairFromBytes accepts the 64-byte secret||public layout used by keypair files.
func KeypairFromBytes(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid keypair length %d, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, fmt.Errorf("keypair public half does not match secret")
	}
	return priv, nil
}
