// Package config handles TOML configuration for snapwarden.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultRegion is used when neither the config nor the command line name one
const DefaultRegion = "ap-southeast-2"

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Teardown  TeardownConfig  `toml:"teardown"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Journal   JournalConfig   `toml:"journal"`
	History   HistoryConfig   `toml:"history"`
	Policy    PolicyConfig    `toml:"policy"`
	OTEL      OTELConfig      `toml:"otel"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Log       LogConfig       `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Profile          string `toml:"profile"`
	Region           string `toml:"region"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
}

// SnapshotConfig holds snapshot run settings.
type SnapshotConfig struct {
	MinAgeDays       int    `toml:"min_age_days"`
	Description      string `toml:"description"`
	Live             bool   `toml:"live"`
	Parallelism      int    `toml:"parallelism"`
	AllowAutoScaling bool   `toml:"allow_autoscaling"`

	StopTimeoutStr  string `toml:"stop_timeout"`
	StopTimeout     time.Duration
	StartTimeoutStr string `toml:"start_timeout"`
	StartTimeout    time.Duration
}

// TeardownConfig holds teardown settings.
type TeardownConfig struct {
	DetachTimeoutStr string `toml:"detach_timeout"`
	DetachTimeout    time.Duration
}

// RateLimitConfig bounds calls to the cloud API. Zero rps disables limiting.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// JournalConfig holds action journal settings.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	Path string `toml:"path"`
	Keep int    `toml:"keep"`
}

// PolicyConfig points at Rego exclusion policies.
type PolicyConfig struct {
	Path string `toml:"path"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DaemonConfig holds scheduled snapshot settings.
type DaemonConfig struct {
	IntervalStr string `toml:"interval"`
	Interval    time.Duration
	Project     string `toml:"project"`
	MetricsAddr string `toml:"metrics_addr"`
	RunOnStart  bool   `toml:"run_on_start"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// defaults always parse
	_ = parseDurations(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = DefaultRegion
	}
	if cfg.AWS.RetryMaxAttempts == 0 {
		cfg.AWS.RetryMaxAttempts = 5
	}
	if cfg.Snapshot.Parallelism == 0 {
		cfg.Snapshot.Parallelism = 1
	}
	if cfg.Snapshot.StopTimeoutStr == "" {
		cfg.Snapshot.StopTimeoutStr = "10m"
	}
	if cfg.Snapshot.StartTimeoutStr == "" {
		cfg.Snapshot.StartTimeoutStr = "10m"
	}
	if cfg.Teardown.DetachTimeoutStr == "" {
		cfg.Teardown.DetachTimeoutStr = "5m"
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = filepath.Join(stateDir(), "journal")
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(stateDir(), "runs.db")
	}
	if cfg.History.Keep == 0 {
		cfg.History.Keep = 500
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "snapwarden"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "24h"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".snapwarden"
	}
	return filepath.Join(home, ".snapwarden")
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"snapshot.stop_timeout", cfg.Snapshot.StopTimeoutStr, &cfg.Snapshot.StopTimeout},
		{"snapshot.start_timeout", cfg.Snapshot.StartTimeoutStr, &cfg.Snapshot.StartTimeout},
		{"teardown.detach_timeout", cfg.Teardown.DetachTimeoutStr, &cfg.Teardown.DetachTimeout},
		{"daemon.interval", cfg.Daemon.IntervalStr, &cfg.Daemon.Interval},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.src, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region required")
	}
	if c.Snapshot.MinAgeDays < 0 {
		return fmt.Errorf("snapshot: min_age_days must not be negative (got %d)", c.Snapshot.MinAgeDays)
	}
	if c.Snapshot.Parallelism < 1 {
		return fmt.Errorf("snapshot: parallelism must be at least 1 (got %d)", c.Snapshot.Parallelism)
	}
	if c.History.Keep < 1 {
		return fmt.Errorf("history: keep must be at least 1 (got %d)", c.History.Keep)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit: rps must not be negative (got %v)", c.RateLimit.RPS)
	}
	if c.Daemon.Interval < time.Minute {
		return fmt.Errorf("daemon: interval must be at least 1m (got %s)", c.Daemon.Interval)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}
