package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gzhole/eduguard/internal/aggregate"
	"github.com/gzhole/eduguard/internal/threat"
)

func TestLoadFile_MissingUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvLogLevel, "")
	cfg, err := LoadFile(dir, filepath.Join(dir, "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detection.Strategy != aggregate.StrategyMaxLevel {
		t.Errorf("expected max_level strategy, got %s", cfg.Detection.Strategy)
	}
	if cfg.Audit.Store != StoreFile || cfg.Audit.Path != filepath.Join(dir, DefaultLogFile) {
		t.Errorf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.Audit.SyncTimeout != 2*time.Second {
		t.Errorf("expected 2s sync timeout, got %s", cfg.Audit.SyncTimeout)
	}
	if cfg.Output.MaxRedactedFraction != 0.4 {
		t.Errorf("expected 0.4 redaction limit, got %v", cfg.Output.MaxRedactedFraction)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
log_level: debug
listen: ":9000"
detection:
  max_scan_length: 4000
  strategy: score_escalation
  weights:
    pii_leak: 0.9
  thresholds:
    jailbreak: {low: 0.1, medium: 0.3, high: 0.6, critical: 0.9}
output:
  max_redacted_fraction: 0.25
audit:
  store: sqlite
  dsn: "file:/tmp/x.db"
  sync_timeout: 500ms
  batch_size: 10
quota:
  addr: "localhost:6379"
  timeout: 100ms
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLogLevel, "")
	cfg, err := LoadFile(dir, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Listen != ":9000" {
		t.Errorf("top-level fields not loaded: %+v", cfg)
	}
	if cfg.Detection.MaxScanLength != 4000 || cfg.Detection.Strategy != aggregate.StrategyScoreEscalation {
		t.Errorf("detection not loaded: %+v", cfg.Detection)
	}
	if cfg.Detection.Weights[threat.PIILeak] != 0.9 {
		t.Errorf("expected pii weight 0.9, got %v", cfg.Detection.Weights[threat.PIILeak])
	}
	if cfg.Detection.Weights[threat.Jailbreak] != 1.0 {
		t.Errorf("expected default jailbreak weight kept, got %v", cfg.Detection.Weights[threat.Jailbreak])
	}
	if cfg.Audit.SyncTimeout != 500*time.Millisecond || cfg.Audit.BatchSize != 10 {
		t.Errorf("audit tuning not loaded: %+v", cfg.Audit.Config)
	}
	if cfg.Quota.Timeout != 100*time.Millisecond {
		t.Errorf("quota timeout not loaded: %s", cfg.Quota.Timeout)
	}

	o, err := cfg.CatalogOverrides()
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if o.Thresholds[threat.Jailbreak].High != 0.6 {
		t.Errorf("inline thresholds not merged: %+v", o.Thresholds)
	}
}

func TestLoadFile_EnvLogLevel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := LoadFile(dir, filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected env override, got %q", cfg.LogLevel)
	}
}

func TestLoad_EnvConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvLogLevel, "")
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("listen: \":7000\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("expected config from %s, got listen %q", EnvConfig, cfg.Listen)
	}
	info, err := os.Stat(filepath.Join(home, DefaultConfigDir))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected config dir to be created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("expected 0700 config dir, got %04o", info.Mode().Perm())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Detection.Strategy = "average" }},
		{"zero scan length", func(c *Config) { c.Detection.MaxScanLength = 0 }},
		{"weight out of range", func(c *Config) { c.Detection.Weights[threat.PIILeak] = 2 }},
		{"unknown weight category", func(c *Config) { c.Detection.Weights["spam"] = 0.5 }},
		{"redaction fraction zero", func(c *Config) { c.Output.MaxRedactedFraction = 0 }},
		{"stricter delta too big", func(c *Config) { c.Output.StricterDelta = 1 }},
		{"sqlite without dsn", func(c *Config) { c.Audit.Store = StoreSQLite }},
		{"unknown store", func(c *Config) { c.Audit.Store = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := Default(t.TempDir()).Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
