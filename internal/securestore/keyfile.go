package securestore

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type keyFile struct {
	Kind      string `json:"kind"`
	PublicKey []byte `json:"public_key"`
	Secret    []byte `json:"secret"`
}

const keyFileKind = "ed25519"

// WriteKeyFile encrypts an ed25519 signing key to path with 0600 permissions.
func WriteKeyFile(path, passphrase string, key ed25519.PrivateKey) error {
	if strings.TrimSpace(passphrase) == "" {
		return fmt.Errorf("key file passphrase is required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid ed25519 key length %d", len(key))
	}
	payload, err := json.Marshal(keyFile{
		Kind:      keyFileKind,
		PublicKey: key.Public().(ed25519.PublicKey),
		Secret:    key.Seed(),
	})
	if err != nil {
		return err
	}
	defer zeroBytes(payload)
	sealed, err := Encrypt(passphrase, payload)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, sealed)
}

// ReadKeyFile decrypts a key written by WriteKeyFile and checks the stored
// public key matches the seed.
func ReadKeyFile(path, passphrase string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := Decrypt(passphrase, raw)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plain)
	var kf keyFile
	if err := json.Unmarshal(plain, &kf); err != nil {
		return nil, ErrInvalid
	}
	defer zeroBytes(kf.Secret)
	if kf.Kind != keyFileKind || len(kf.Secret) != ed25519.SeedSize {
		return nil, ErrInvalid
	}
	key := ed25519.NewKeyFromSeed(kf.Secret)
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(kf.PublicKey)) {
		return nil, ErrInvalid
	}
	return key, nil
}

// writeFileAtomic writes via a temp file and rename so a crash never leaves
// a half-written secret behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
