package securestore

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("credential not found")

// FileCredentialStore keeps named credentials in one encrypted file. Every
// write re-encrypts the whole file.
type FileCredentialStore struct {
	path       string
	passphrase string

	mu sync.Mutex
}

func NewFileCredentialStore(path, passphrase string) (*FileCredentialStore, error) {
	path, passphrase = strings.TrimSpace(path), strings.TrimSpace(passphrase)
	if path == "" || passphrase == "" {
		return nil, errors.New("credential store path and passphrase are required")
	}
	return &FileCredentialStore{path: path, passphrase: passphrase}, nil
}

func (s *FileCredentialStore) load() (map[string][]byte, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	plain, err := Decrypt(s.passphrase, raw)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plain)
	out := map[string][]byte{}
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, ErrInvalid
	}
	return out, nil
}

func (s *FileCredentialStore) save(entries map[string][]byte) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	defer zeroBytes(payload)
	sealed, err := Encrypt(s.passphrase, payload)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, sealed)
}

func (s *FileCredentialStore) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *FileCredentialStore) Set(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[name] = append([]byte(nil), value...)
	return s.save(entries)
}

// Delete removes name; deleting a missing credential is not an error.
func (s *FileCredentialStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return s.save(entries)
}
