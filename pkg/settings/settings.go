// Package settings manages persistent user settings for the newtslice CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DefaultPolicy is used when neither --policy nor a setting names one.
const DefaultPolicy = "dynamic"

// Settings holds persistent user preferences
type Settings struct {
	// Topology is the topology YAML used when -S is not specified
	Topology string `json:"topology,omitempty"`

	// Policy is the slice policy used when --policy is not specified
	Policy string `json:"policy,omitempty"`

	// RedisAddr enables state publishing when --redis is not specified
	RedisAddr string `json:"redis_addr,omitempty"`

	// AuditFile is the enforcement log path
	AuditFile string `json:"audit_file,omitempty"`

	// MetricsAddr enables the Prometheus endpoint
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtslice_settings.json"
	}
	return filepath.Join(home, ".newtslice", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetPolicy returns the configured policy (with fallback)
func (s *Settings) GetPolicy() string {
	if s.Policy != "" {
		return s.Policy
	}
	return DefaultPolicy
}

// GetAuditFile returns the enforcement log path (with fallback)
func (s *Settings) GetAuditFile() string {
	if s.AuditFile != "" {
		return s.AuditFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtslice_audit.log"
	}
	return filepath.Join(home, ".newtslice", "audit.log")
}

// Fields lists the settable keys with their current values, in display order.
func (s *Settings) Fields() [][2]string {
	out := make([][2]string, len(Keys))
	for i, k := range Keys {
		out[i] = [2]string{k, *s.field(k)}
	}
	return out
}

// Keys lists the canonical setting names.
var Keys = []string{"topology", "policy", "redis_addr", "audit_file", "metrics_addr"}

func (s *Settings) field(key string) *string {
	switch key {
	case "topology":
		return &s.Topology
	case "policy":
		return &s.Policy
	case "redis_addr", "redis":
		return &s.RedisAddr
	case "audit_file", "audit":
		return &s.AuditFile
	case "metrics_addr", "metrics":
		return &s.MetricsAddr
	}
	return nil
}

// Get returns a setting by key. It reports false for an unknown key.
func (s *Settings) Get(key string) (string, bool) {
	f := s.field(key)
	if f == nil {
		return "", false
	}
	return *f, true
}

// Set assigns a setting by key. It reports false for an unknown key.
func (s *Settings) Set(key, value string) bool {
	f := s.field(key)
	if f == nil {
		return false
	}
	*f = value
	return true
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
