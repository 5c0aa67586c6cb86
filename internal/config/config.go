// Package config defines the structure and parsing of the vmgate targets
// file, which names the Windows hosts an operator manages and the VMs known
// to live on each.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File represents a parsed targets file.
type File struct {
	// Path is the file path the config was loaded from.
	Path string `yaml:"-"`

	// Targets is the list of managed hosts.
	Targets []*Target `yaml:"targets"`
}

// Target describes one Windows host running VMware Workstation.
type Target struct {
	// Name is the short alias used on the command line.
	Name string `yaml:"name"`

	// Host is the address to dial.
	Host string `yaml:"host"`

	// Port is the SSH port (default: 22).
	Port int `yaml:"port"`

	// User is the SSH login user.
	User string `yaml:"user"`

	// VMs lists VMX paths known to exist on this host.
	VMs []string `yaml:"vms"`
}

// ParseFile parses a targets file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}

	f.Path = path
	return f, nil
}

// Parse parses a targets file from YAML data.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid targets format: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Validate checks the file for common errors.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Targets))
	for i, t := range f.Targets {
		if err := t.Validate(); err != nil {
			name := t.Name
			if name == "" {
				name = fmt.Sprintf("target %d", i+1)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return fmt.Errorf("duplicate target name: %s", t.Name)
		}
		seen[key] = true
	}
	return nil
}

// Validate checks the target for common errors.
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target is missing required 'name' field")
	}
	if t.Host == "" {
		return fmt.Errorf("target is missing required 'host' field")
	}
	if t.User == "" {
		return fmt.Errorf("target is missing required 'user' field")
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid port: %d", t.Port)
	}
	return nil
}

// Lookup finds a target by name, case-insensitively.
func (f *File) Lookup(name string) (*Target, error) {
	for _, t := range f.Targets {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown target '%s' (available: %s)", name, strings.Join(f.Names(), ", "))
}

// Names returns the target names in file order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Targets))
	for _, t := range f.Targets {
		names = append(names, t.Name)
	}
	return names
}

// GetPort returns the SSH port, defaulting to 22.
func (t *Target) GetPort() int {
	if t.Port == 0 {
		return 22
	}
	return t.Port
}
