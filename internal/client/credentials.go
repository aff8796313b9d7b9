package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"keystore/go-backend/internal/securestore"
)

const credentialKey = "keystore_credential"

// CredentialStore persists small named secrets. Get must return an error
// matching securestore.ErrNotFound for a missing name.
type CredentialStore interface {
	Get(name string) ([]byte, error)
	Set(name string, value []byte) error
	Delete(name string) error
}

// Credential is what a device remembers about its enrollment.
type Credential struct {
	CredentialID []byte `json:"credentialId"`
	PublicKey    []byte `json:"publicKey"`
	Owner        string `json:"owner"`
	DeviceName   string `json:"deviceName"`
}

func SaveCredential(store CredentialStore, cred Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return store.Set(credentialKey, raw)
}

// LoadCredential reports false when the device has no enrollment.
func LoadCredential(store CredentialStore) (Credential, bool, error) {
	raw, err := store.Get(credentialKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("decode stored credential: %w", err)
	}
	return cred, true, nil
}

func DeleteCredential(store CredentialStore) error {
	return store.Delete(credentialKey)
}
