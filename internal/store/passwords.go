// Package store persists the SSH private key and the per-VM password map
// consumed by the operations layer. Both are simple get/set/clear services
// over files in the vmgate data directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PasswordStore maps normalized VMX paths to VM passwords, persisted as a
// YAML key-value document. Writes go through a temp file and an atomic
// rename so a crash never leaves a partial document.
type PasswordStore struct {
	path string
}

// NewPasswordStore creates a store backed by the given file. The file need
// not exist yet.
func NewPasswordStore(path string) *PasswordStore {
	return &PasswordStore{path: path}
}

// NormalizeVMKey canonicalizes a VMX path for use as a map key: trim, strip
// one pair of surrounding quotes, forward slashes to backslashes, lowercase.
// Applied identically at write and read time; idempotent.
func NormalizeVMKey(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = s[1 : len(s)-1]
			break
		}
	}
	s = strings.ReplaceAll(s, "/", `\`)
	return strings.ToLower(s)
}

// legacyKey is the normalization older versions used when writing entries.
func legacyKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Get looks up the password for a VM. Read-side compatibility: the
// normalized key first, then the legacy normalization, then a linear scan
// re-normalizing every stored key.
func (p *PasswordStore) Get(vmxPath string) (string, bool, error) {
	m, err := p.load()
	if err != nil {
		return "", false, err
	}

	norm := NormalizeVMKey(vmxPath)
	if pw, ok := m[norm]; ok {
		return pw, true, nil
	}
	if pw, ok := m[legacyKey(vmxPath)]; ok {
		return pw, true, nil
	}
	for k, pw := range m {
		if NormalizeVMKey(k) == norm {
			return pw, true, nil
		}
	}
	return "", false, nil
}

// Set stores the password under the normalized key.
func (p *PasswordStore) Set(vmxPath, password string) error {
	m, err := p.load()
	if err != nil {
		return err
	}
	m[NormalizeVMKey(vmxPath)] = password
	return p.save(m)
}

// Clear removes the entry for a VM, including entries written under older
// normalizations. Clearing an absent entry is not an error.
func (p *PasswordStore) Clear(vmxPath string) error {
	m, err := p.load()
	if err != nil {
		return err
	}
	norm := NormalizeVMKey(vmxPath)
	changed := false
	for k := range m {
		if k == norm || NormalizeVMKey(k) == norm {
			delete(m, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return p.save(m)
}

func (p *PasswordStore) load() (map[string]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read password store: %w", err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse password store: %w", err)
	}
	return m, nil
}

func (p *PasswordStore) save(m map[string]string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode password store: %w", err)
	}
	return atomicWrite(p.path, data, 0o600)
}

// atomicWrite writes data to a sibling temp file and renames it into place.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename to %s: %w", path, err)
	}
	return nil
}
