package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	original := &Settings{
		Topology:    "/etc/newtslice/topology.yaml",
		Policy:      "service",
		RedisAddr:   "localhost:6379",
		AuditFile:   "/var/log/newtslice/audit.log",
		MetricsAddr: ":9100",
	}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("loaded = %+v, want %+v", *loaded, *original)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil {
		t.Fatal("LoadFrom() should return non-nil Settings")
	}
	if *s != (Settings{}) {
		t.Errorf("LoadFrom() non-existent = %+v, want empty", *s)
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("invalid json {"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid JSON should error")
	}
}

func TestLoadFrom_ReadError(t *testing.T) {
	dirAsFile := filepath.Join(t.TempDir(), "settings.json")
	if err := os.Mkdir(dirAsFile, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(dirAsFile); err == nil {
		t.Error("LoadFrom() should error when path is a directory")
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.json")

	s := &Settings{Policy: "static"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestLoadSave_DefaultPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() with no file: %v", err)
	}
	if s.Policy != "" {
		t.Errorf("Policy = %q, want empty", s.Policy)
	}

	s.Policy = "static"
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".newtslice", "settings.json")); err != nil {
		t.Fatalf("Save() did not write the default path: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() after Save(): %v", err)
	}
	if loaded.Policy != "static" {
		t.Errorf("Policy = %q, want static", loaded.Policy)
	}
}

func TestDefaultSettingsPath_NoHome(t *testing.T) {
	t.Setenv("HOME", "")

	if got := DefaultSettingsPath(); got != "newtslice_settings.json" {
		t.Errorf("DefaultSettingsPath() with no HOME = %q", got)
	}
}

func TestGetPolicy(t *testing.T) {
	s := &Settings{}
	if got := s.GetPolicy(); got != DefaultPolicy {
		t.Errorf("GetPolicy() = %q, want %q", got, DefaultPolicy)
	}
	s.Policy = "service"
	if got := s.GetPolicy(); got != "service" {
		t.Errorf("GetPolicy() = %q, want service", got)
	}
}

func TestGetAuditFile(t *testing.T) {
	t.Setenv("HOME", "/home/op")
	s := &Settings{}
	if got := s.GetAuditFile(); got != "/home/op/.newtslice/audit.log" {
		t.Errorf("GetAuditFile() = %q", got)
	}
	s.AuditFile = "/tmp/a.log"
	if got := s.GetAuditFile(); got != "/tmp/a.log" {
		t.Errorf("GetAuditFile() = %q", got)
	}
}

func TestSetAndClear(t *testing.T) {
	s := &Settings{}

	tests := []struct {
		key, value string
		get        func() string
	}{
		{"topology", "t.yaml", func() string { return s.Topology }},
		{"policy", "static", func() string { return s.Policy }},
		{"redis", "r:6379", func() string { return s.RedisAddr }},
		{"audit_file", "a.log", func() string { return s.AuditFile }},
		{"metrics", ":9100", func() string { return s.MetricsAddr }},
	}
	for _, tt := range tests {
		if !s.Set(tt.key, tt.value) {
			t.Errorf("Set(%q) rejected", tt.key)
		}
		if got := tt.get(); got != tt.value {
			t.Errorf("after Set(%q), value = %q, want %q", tt.key, got, tt.value)
		}
	}

	if v, ok := s.Get("redis_addr"); !ok || v != "r:6379" {
		t.Errorf("Get(redis_addr) = %q, %v", v, ok)
	}
	if _, ok := s.Get("bogus"); ok {
		t.Error("Get(bogus) should be rejected")
	}
	if s.Set("bogus", "x") {
		t.Error("Set(bogus) should be rejected")
	}
	if got := len(s.Fields()); got != 5 {
		t.Errorf("len(Fields()) = %d, want 5", got)
	}

	s.Clear()
	if *s != (Settings{}) {
		t.Errorf("after Clear() = %+v", *s)
	}
}
