package securestore

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"keystore/go-backend/internal/testutil/fsperm"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte(filePrefix)) {
		t.Fatalf("missing file prefix")
	}
	plain, err := Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
	if _, err := Decrypt("wrong", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for wrong passphrase, got %v", err)
	}
}

func TestDecryptTamperedFailsDeterministically(t *testing.T) {
	data, err := Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	data[len(data)-2] ^= 0xFF
	_, err = Decrypt("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptRejectsPlaintextAndHostileParams(t *testing.T) {
	if _, err := Decrypt("pass", []byte(`[1,2,3]`)); !errors.Is(err, ErrPlaintext) {
		t.Fatalf("expected ErrPlaintext, got %v", err)
	}

	env, err := EncryptEnvelope("pass", []byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env.KDFMemoryKB = maxKDFMemoryKB + 1
	raw, _ := json.Marshal(env)
	if _, err := Decrypt("pass", append([]byte(filePrefix), raw...)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for oversized kdf memory, got %v", err)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "relayer.key")
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))

	if err := WriteKeyFile(path, "correct horse", key); err != nil {
		t.Fatalf("write: %v", err)
	}
	fsperm.AssertPrivateFile(t, path)
	fsperm.AssertPrivateDir(t, filepath.Dir(path))

	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, key.Seed()) {
		t.Fatal("seed stored in the clear")
	}
	got, err := ReadKeyFile(path, "correct horse")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Equal(key) {
		t.Fatal("key mismatch")
	}
	if _, err := ReadKeyFile(path, "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if err := WriteKeyFile(path, " ", key); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}

func TestFileCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewFileCredentialStore(path, "pw")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Get("device"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}
	if err := store.Set("device", []byte("credential-1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	fsperm.AssertPrivateFile(t, path)

	reopened, _ := NewFileCredentialStore(path, "pw")
	got, err := reopened.Get("device")
	if err != nil || string(got) != "credential-1" {
		t.Fatalf("get after reopen: %q, %v", got, err)
	}
	if err := reopened.Delete("device"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := reopened.Delete("device"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := store.Get("device"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	wrong, _ := NewFileCredentialStore(path, "other")
	if _, err := wrong.Get("device"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := NewFileCredentialStore("", "pw"); err == nil {
		t.Fatal("expected error for missing path")
	}
}
