package store

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// MaxKeySize bounds uploaded key material; anything larger is rejected
// before any parsing attempt.
const MaxKeySize = 256 * 1024

// ErrKeyNotConfigured signals that no private key has been stored yet.
var ErrKeyNotConfigured = errors.New("SSH private key not configured; store one with 'vmgate key set'")

// KeyStore persists the single SSH private key credential. The key is
// format-validated both when stored and when loaded, and re-read on every
// use so a replaced key takes effect immediately.
type KeyStore struct {
	path string
}

// NewKeyStore creates a store backed by the given file.
func NewKeyStore(path string) *KeyStore {
	return &KeyStore{path: path}
}

// Set validates and stores private key material.
func (k *KeyStore) Set(keyText []byte) error {
	if len(keyText) > MaxKeySize {
		return fmt.Errorf("key too large: %d bytes (limit %d)", len(keyText), MaxKeySize)
	}
	if _, err := ssh.ParsePrivateKey(keyText); err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	return atomicWrite(k.path, keyText, 0o600)
}

// Signer loads and parses the stored key for authentication.
func (k *KeyStore) Signer() (ssh.Signer, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotConfigured
		}
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// Exists reports whether a key is stored.
func (k *KeyStore) Exists() bool {
	info, err := os.Stat(k.path)
	return err == nil && info.Mode().IsRegular()
}

// Clear removes the stored key. A missing key is not an error.
func (k *KeyStore) Clear() error {
	err := os.Remove(k.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove private key: %w", err)
	}
	return nil
}
