// Package account reads and writes the identity account layout owned by the
// keystore program.
package account

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/solana"
)

const (
	MaxKeys    = 5
	MaxNameLen = 32

	CompressedKeySize = 33
	discriminatorSize = 8

	identitySeed = "identity"
	vaultSeed    = "vault"
)

var ProgramID = solana.MustPublicKey("4DS5K64SuWK6PmN1puZVtPouLWCqQDA3aE58MPPuDXu2")

var discriminator = func() [discriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:Identity"))
	var out [discriminatorSize]byte
	copy(out[:], sum[:discriminatorSize])
	return out
}()

type RegisteredKey struct {
	PublicKey [CompressedKeySize]byte
	Name      string
	AddedAt   int64
}

type Identity struct {
	Bump      uint8
	VaultBump uint8
	Threshold uint8
	Nonce     uint64
	Keys      []RegisteredKey
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, fmt.Errorf("%w: truncated at %s (offset %d, need %d, have %d)",
			contracts.ErrDecode, field, r.off, n, len(r.buf)-r.off)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) u8(field string) (uint8, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u32(field string) (uint32, error) {
	b, err := r.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64(field string) (uint64, error) {
	b, err := r.take(8, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// minKeySize is the smallest possible encoding of one key: pubkey, empty name, addedAt.
const minKeySize = CompressedKeySize + 4 + 8

// Decode parses raw account data. The leading tag is skipped, not checked.
func Decode(data []byte) (*Identity, error) {
	r := &reader{buf: data}
	if _, err := r.take(discriminatorSize, "discriminator"); err != nil {
		return nil, err
	}
	var (
		id  Identity
		err error
	)
	if id.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	if id.VaultBump, err = r.u8("vault_bump"); err != nil {
		return nil, err
	}
	if id.Threshold, err = r.u8("threshold"); err != nil {
		return nil, err
	}
	if id.Nonce, err = r.u64("nonce"); err != nil {
		return nil, err
	}
	count, err := r.u32("key count")
	if err != nil {
		return nil, err
	}
	if uint64(count)*minKeySize > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: key count %d exceeds remaining %d bytes", contracts.ErrDecode, count, r.remaining())
	}
	id.Keys = make([]RegisteredKey, 0, count)
	for i := uint32(0); i < count; i++ {
		var key RegisteredKey
		pub, err := r.take(CompressedKeySize, fmt.Sprintf("keys[%d].pubkey", i))
		if err != nil {
			return nil, err
		}
		copy(key.PublicKey[:], pub)
		nameLen, err := r.u32(fmt.Sprintf("keys[%d].name length", i))
		if err != nil {
			return nil, err
		}
		if uint64(nameLen) > uint64(r.remaining()) {
			return nil, fmt.Errorf("%w: keys[%d].name length %d exceeds remaining %d bytes", contracts.ErrDecode, i, nameLen, r.remaining())
		}
		name, _ := r.take(int(nameLen), "name")
		if !utf8.Valid(name) {
			return nil, fmt.Errorf("%w: keys[%d].name is not valid utf-8", contracts.ErrDecode, i)
		}
		key.Name = string(name)
		addedAt, err := r.u64(fmt.Sprintf("keys[%d].added_at", i))
		if err != nil {
			return nil, err
		}
		key.AddedAt = int64(addedAt)
		id.Keys = append(id.Keys, key)
	}
	return &id, nil
}

// Encode produces the same layout the program writes, tag included.
func (id *Identity) Encode() []byte {
	out := make([]byte, 0, discriminatorSize+15+len(id.Keys)*(minKeySize+MaxNameLen))
	out = append(out, discriminator[:]...)
	out = append(out, id.Bump, id.VaultBump, id.Threshold)
	out = binary.LittleEndian.AppendUint64(out, id.Nonce)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(id.Keys)))
	for _, key := range id.Keys {
		out = append(out, key.PublicKey[:]...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(key.Name)))
		out = append(out, key.Name...)
		out = binary.LittleEndian.AppendUint64(out, uint64(key.AddedAt))
	}
	return out
}

// Validate checks the invariants the program is expected to maintain, so a
// corrupt or hostile account is caught before any fee is spent.
func (id *Identity) Validate() error {
	if len(id.Keys) > MaxKeys {
		return contracts.Validationf("identity has %d keys, max %d", len(id.Keys), MaxKeys)
	}
	if id.Threshold < 1 || int(id.Threshold) > len(id.Keys) {
		return contracts.Validationf("threshold %d out of range for %d keys", id.Threshold, len(id.Keys))
	}
	for i := range id.Keys {
		for j := i + 1; j < len(id.Keys); j++ {
			if id.Keys[i].PublicKey == id.Keys[j].PublicKey {
				return contracts.Validationf("public key registered twice (indexes %d and %d)", i, j)
			}
		}
	}
	return nil
}

// KeyIndexOf returns the index of pubkey, or -1.
func (id *Identity) KeyIndexOf(pubkey []byte) int {
	for i, key := range id.Keys {
		if bytes.Equal(key.PublicKey[:], pubkey) {
			return i
		}
	}
	return -1
}

func IdentityAddress(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(identitySeed), owner[:]}, ProgramID)
}

func VaultAddress(identity solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(vaultSeed), identity[:]}, ProgramID)
}
