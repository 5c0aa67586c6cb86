package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// File names inside the data directory.
const (
	keyFile       = "ssh_key"
	passwordsFile = "passwords.yaml"
)

// DefaultDir returns (and creates) the vmgate data directory under the
// user's home.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".vmgate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return dir, nil
}

// KeyPath returns the private key path inside dir.
func KeyPath(dir string) string {
	return filepath.Join(dir, keyFile)
}

// PasswordsPath returns the password map path inside dir.
func PasswordsPath(dir string) string {
	return filepath.Join(dir, passwordsFile)
}
