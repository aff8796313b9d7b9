package config

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"keystore/go-backend/internal/securestore"
	"keystore/go-backend/internal/solana"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrNoRelayerKey    = errors.New("no relayer key configured")
	ErrInvalidMnemonic = errors.New("invalid relayer mnemonic")
)

// LoadRelayerKey resolves the relay fee-payer key. Sources are tried in
// order: encrypted key file, raw private key, mnemonic.
func LoadRelayerKey(kc KeyConfig) (ed25519.PrivateKey, error) {
	if path := strings.TrimSpace(kc.KeyFile); path != "" {
		key, err := securestore.ReadKeyFile(path, kc.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("read relayer key file: %w", err)
		}
		return key, nil
	}
	if raw := strings.TrimSpace(kc.PrivateKey); raw != "" {
		return parsePrivateKey(raw)
	}
	if m := strings.TrimSpace(kc.Mnemonic); m != "" {
		return keyFromMnemonic(m, kc.MnemonicPassphrase)
	}
	return nil, ErrNoRelayerKey
}

// parsePrivateKey accepts a keypair-file JSON byte array or a base58
// encoded 64-byte secret.
func parsePrivateKey(raw string) (ed25519.PrivateKey, error) {
	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("parse relayer private key: %w", err)
		}
		buf := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("parse relayer private key: byte %d out of range", i)
			}
			buf[i] = byte(v)
		}
		return solana.KeypairFromBytes(buf)
	}
	buf, err := base58.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("parse relayer private key: %w", err)
	}
	return solana.KeypairFromBytes(buf)
}

func keyFromMnemonic(mnemonic, passphrase string) (ed25519.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]), nil
}
