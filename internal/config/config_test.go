package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scoreforge/internal/config"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Engraving.Backend != config.BackendLilypond {
		t.Fatalf("unexpected default backend %q", cfg.Engraving.Backend)
	}
	if cfg.MaxUploadBytes() != 20*1024*1024 {
		t.Fatalf("unexpected upload ceiling %d", cfg.MaxUploadBytes())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Fatalf("expected default workers, got %d", cfg.Pipeline.Workers)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
storage_dir = "` + t.TempDir() + `"
bind = "127.0.0.1:0"

[pipeline]
workers = 4

[engraving]
backend = "placeholder"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Fatalf("expected workers override, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Engraving.Backend != config.BackendPlaceholder {
		t.Fatalf("expected placeholder backend, got %q", cfg.Engraving.Backend)
	}
	// Untouched sections keep defaults.
	if cfg.MaxDurationSeconds != 300 {
		t.Fatalf("expected default duration limit, got %d", cfg.MaxDurationSeconds)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.Engraving.Backend = "finale"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "engraving.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.Pipeline.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[engraving]") {
		t.Fatalf("sample config missing engraving section")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := config.Default()
	cfg.StorageDir = filepath.Join(t.TempDir(), "store")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := os.Stat(cfg.JobsDir()); err != nil {
		t.Fatalf("jobs dir missing: %v", err)
	}
}
