package account

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/solana"
)

func compressedKey(b byte) [CompressedKeySize]byte {
	var out [CompressedKeySize]byte
	out[0] = 0x02
	for i := 1; i < len(out); i++ {
		out[i] = b
	}
	return out
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := map[string]*Identity{
		"zero keys": {Bump: 254, VaultBump: 253, Threshold: 1, Nonce: 0, Keys: []RegisteredKey{}},
		"single key": {Bump: 1, VaultBump: 2, Threshold: 1, Nonce: 42, Keys: []RegisteredKey{
			{PublicKey: compressedKey(1), Name: "iPhone", AddedAt: 1_700_000_000},
		}},
		"max keys max names": {Bump: 255, VaultBump: 255, Threshold: 5, Nonce: ^uint64(0), Keys: []RegisteredKey{
			{PublicKey: compressedKey(1), Name: strings.Repeat("a", MaxNameLen), AddedAt: -1},
			{PublicKey: compressedKey(2), Name: strings.Repeat("é", MaxNameLen/2), AddedAt: 0},
			{PublicKey: compressedKey(3), Name: "", AddedAt: 1},
			{PublicKey: compressedKey(4), Name: "laptop", AddedAt: 1 << 40},
			{PublicKey: compressedKey(5), Name: strings.Repeat("z", MaxNameLen), AddedAt: -(1 << 40)},
		}},
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(want.Encode())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestDecodeFieldOrder(t *testing.T) {
	id := &Identity{Bump: 7, VaultBump: 8, Threshold: 1, Nonce: 0x0102030405060708, Keys: []RegisteredKey{
		{PublicKey: compressedKey(9), Name: "ab", AddedAt: 5},
	}}
	raw := id.Encode()
	if raw[8] != 7 || raw[9] != 8 || raw[10] != 1 {
		t.Fatalf("unexpected fixed prefix %x", raw[8:11])
	}
	if raw[11] != 0x08 || raw[18] != 0x01 {
		t.Fatalf("nonce is not little-endian: %x", raw[11:19])
	}
	if raw[19] != 1 || raw[20] != 0 {
		t.Fatalf("unexpected key count bytes %x", raw[19:23])
	}
	if want := 8 + 3 + 8 + 4 + 33 + 4 + 2 + 8; len(raw) != want {
		t.Fatalf("unexpected length %d, want %d", len(raw), want)
	}
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	raw := (&Identity{Threshold: 1, Keys: []RegisteredKey{
		{PublicKey: compressedKey(1), Name: "phone", AddedAt: 1},
	}}).Encode()
	for n := 0; n < len(raw); n++ {
		if _, err := Decode(raw[:n]); !errors.Is(err, contracts.ErrDecode) {
			t.Fatalf("prefix %d: expected decode error, got %v", n, err)
		}
	}
}

func TestDecodeRejectsHostileLengths(t *testing.T) {
	base := (&Identity{Threshold: 1}).Encode()

	hugeCount := append([]byte(nil), base...)
	copy(hugeCount[19:23], []byte{0xff, 0xff, 0xff, 0xff})
	if _, err := Decode(hugeCount); !errors.Is(err, contracts.ErrDecode) {
		t.Fatalf("expected decode error for huge key count, got %v", err)
	}

	withKey := (&Identity{Threshold: 1, Keys: []RegisteredKey{{PublicKey: compressedKey(1), Name: "x"}}}).Encode()
	nameLenAt := 23 + CompressedKeySize
	copy(withKey[nameLenAt:nameLenAt+4], []byte{0xff, 0xff, 0xff, 0x7f})
	if _, err := Decode(withKey); !errors.Is(err, contracts.ErrDecode) {
		t.Fatalf("expected decode error for huge name length, got %v", err)
	}

	badUTF8 := (&Identity{Threshold: 1, Keys: []RegisteredKey{{PublicKey: compressedKey(1), Name: "ab"}}}).Encode()
	badUTF8[nameLenAt+4] = 0xff
	if _, err := Decode(badUTF8); !errors.Is(err, contracts.ErrDecode) {
		t.Fatalf("expected decode error for invalid utf-8, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	keys := []RegisteredKey{{PublicKey: compressedKey(1)}, {PublicKey: compressedKey(2)}, {PublicKey: compressedKey(3)}}
	cases := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{"ok", Identity{Threshold: 2, Keys: keys}, false},
		{"zero threshold", Identity{Threshold: 0, Keys: keys}, true},
		{"threshold above keys", Identity{Threshold: 4, Keys: keys}, true},
		{"no keys", Identity{Threshold: 1}, true},
		{"duplicate key", Identity{Threshold: 1, Keys: []RegisteredKey{{PublicKey: compressedKey(1)}, {PublicKey: compressedKey(1)}}}, true},
	}
	for _, tc := range cases {
		err := tc.id.Validate()
		if tc.wantErr != (err != nil) {
			t.Fatalf("%s: unexpected result %v", tc.name, err)
		}
		if err != nil && !errors.Is(err, contracts.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestKeyIndexOf(t *testing.T) {
	k2 := compressedKey(2)
	id := Identity{Keys: []RegisteredKey{{PublicKey: compressedKey(1)}, {PublicKey: k2}}}
	if got := id.KeyIndexOf(k2[:]); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}
	missing := compressedKey(9)
	if got := id.KeyIndexOf(missing[:]); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestIdentityAndVaultAddresses(t *testing.T) {
	owner := solana.PublicKey{1, 2, 3}
	identity, _, err := IdentityAddress(owner)
	if err != nil {
		t.Fatalf("identity address: %v", err)
	}
	vault, _, err := VaultAddress(identity)
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	if identity == vault || identity.IsZero() || vault.IsZero() {
		t.Fatalf("unexpected addresses identity=%s vault=%s", identity, vault)
	}
	again, _, _ := IdentityAddress(owner)
	if again != identity {
		t.Fatal("identity address is not deterministic")
	}
}
