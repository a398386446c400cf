package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/eduguard/internal/aggregate"
	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/detector"
	"github.com/gzhole/eduguard/internal/sanitize"
	"github.com/gzhole/eduguard/internal/threat"
)

const (
	DefaultConfigDir   = ".eduguard"
	DefaultConfigFile  = "config.yaml"
	DefaultLogFile     = "audit.jsonl"
	DefaultListen      = "127.0.0.1:8088"
	DefaultStricter    = 0.1
	DefaultQuotaWindow = 250 * time.Millisecond

	EnvConfig   = "EDUGUARD_CONFIG"
	EnvLogLevel = "EDUGUARD_LOG_LEVEL"
)

// Audit store kinds.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ConfigDir   string `yaml:"-"`
	Path        string `yaml:"-"`
	LogLevel    string `yaml:"log_level"`
	Listen      string `yaml:"listen"`
	CatalogPath string `yaml:"catalog_path"`
	AccessPath  string `yaml:"access_path"`

	Detection DetectionConfig `yaml:"detection"`
	Output    OutputConfig    `yaml:"output"`
	Audit     AuditConfig     `yaml:"audit"`
	Quota     QuotaConfig     `yaml:"quota"`
}

// DetectionConfig controls the inbound pipeline.
type DetectionConfig struct {
	MaxScanLength   int                                    `yaml:"max_scan_length"`
	Strategy        aggregate.Strategy                     `yaml:"strategy"`
	Weights         map[threat.Category]float64            `yaml:"weights"`
	EscalationScore float64                                `yaml:"escalation_score"`
	Thresholds      map[threat.Category]catalog.Thresholds `yaml:"thresholds"`
}

// OutputConfig controls response scanning.
type OutputConfig struct {
	// StricterDelta lowers every threshold for model responses.
	StricterDelta       float64 `yaml:"stricter_delta"`
	MaxRedactedFraction float64 `yaml:"max_redacted_fraction"`
	Refusal             string  `yaml:"refusal"`
}

// AuditConfig selects and tunes the audit store.
type AuditConfig struct {
	Store        string `yaml:"store"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
	audit.Config `yaml:",inline"`
}

// QuotaConfig points at the usage counters. An empty Addr disables the
// quota detector's lookup.
type QuotaConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
	Burst     int64         `yaml:"burst"`
}

// DefaultDetectionConfig returns the inbound defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MaxScanLength:   detector.DefaultMaxScanLength,
		Strategy:        aggregate.StrategyMaxLevel,
		Weights:         aggregate.DefaultWeights(),
		EscalationScore: aggregate.DefaultEscalationScore,
	}
}

// DefaultOutputConfig returns the response-scanning defaults.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		StricterDelta:       DefaultStricter,
		MaxRedactedFraction: sanitize.DefaultMaxRedactedFraction,
		Refusal:             sanitize.DefaultRefusal,
	}
}

// Default returns a config rooted at dir.
func Default(dir string) *Config {
	return &Config{
		ConfigDir: dir,
		LogLevel:  "info",
		Listen:    DefaultListen,
		Detection: DefaultDetectionConfig(),
		Output:    DefaultOutputConfig(),
		Audit: AuditConfig{
			Store:  StoreFile,
			Path:   filepath.Join(dir, DefaultLogFile),
			Config: audit.DefaultConfig(),
		},
		Quota: QuotaConfig{Timeout: DefaultQuotaWindow, KeyPrefix: "usage:"},
	}
}

// Load reads the YAML config at path, or $EDUGUARD_CONFIG, or
// ~/.eduguard/config.yaml. A missing file yields defaults.
func Load(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(homeDir, DefaultConfigDir)
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = filepath.Join(configDir, DefaultConfigFile)
	}
	return LoadFile(configDir, path)
}

// LoadFile reads path on top of Default(configDir).
func LoadFile(configDir, path string) (*Config, error) {
	cfg := Default(configDir)
	cfg.Path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would weaken the pipeline.
func (c *Config) Validate() error {
	switch c.Detection.Strategy {
	case aggregate.StrategyMaxLevel, aggregate.StrategyScoreEscalation:
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Detection.Strategy)
	}
	if c.Detection.MaxScanLength <= 0 {
		return fmt.Errorf("config: max_scan_length must be positive")
	}
	for cat, w := range c.Detection.Weights {
		if !cat.Valid() {
			return fmt.Errorf("config: weight for unknown category %q", cat)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("config: weight for %s out of range: %v", cat, w)
		}
	}
	if c.Output.MaxRedactedFraction <= 0 || c.Output.MaxRedactedFraction > 1 {
		return fmt.Errorf("config: max_redacted_fraction must be in (0,1]")
	}
	if c.Output.StricterDelta < 0 || c.Output.StricterDelta >= 1 {
		return fmt.Errorf("config: stricter_delta must be in [0,1)")
	}
	switch c.Audit.Store {
	case StoreFile:
		if c.Audit.Path == "" {
			return fmt.Errorf("config: audit.path required for file store")
		}
	case StoreSQLite, StorePostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("config: audit.dsn required for %s store", c.Audit.Store)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown audit store %q", c.Audit.Store)
	}
	return nil
}

// CatalogOverrides merges the catalog file with inline thresholds.
func (c *Config) CatalogOverrides() (catalog.Overrides, error) {
	o, err := catalog.LoadOverrides(c.CatalogPath)
	if err != nil {
		return o, err
	}
	if len(c.Detection.Thresholds) > 0 && o.Thresholds == nil {
		o.Thresholds = make(map[threat.Category]catalog.Thresholds)
	}
	for k, v := range c.Detection.Thresholds {
		o.Thresholds[k] = v
	}
	return o, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
