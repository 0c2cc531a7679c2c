package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
[aws]
profile = "backups"
region = "us-east-1"
retry_max_attempts = 8

[snapshot]
min_age_days = 7
description = "nightly"
parallelism = 4
stop_timeout = "15m"
start_timeout = "12m"

[teardown]
detach_timeout = "2m"

[ratelimit]
rps = 10
burst = 20

[journal]
dir = "/var/lib/snapwarden/journal"
retention_days = 90

[history]
path = "/var/lib/snapwarden/runs.db"
keep = 50

[policy]
path = "/etc/snapwarden/policies"

[otel]
endpoint = "localhost:4317"
insecure = true

[otel.traces]
enabled = true
sample_rate = 0.5

[daemon]
interval = "6h"
project = "web"
metrics_addr = ":9100"

[log]
level = "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)

	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "backups", cfg.AWS.Profile)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, 8, cfg.AWS.RetryMaxAttempts)
	assert.Equal(t, 7, cfg.Snapshot.MinAgeDays)
	assert.Equal(t, "nightly", cfg.Snapshot.Description)
	assert.Equal(t, 4, cfg.Snapshot.Parallelism)
	assert.Equal(t, 15*time.Minute, cfg.Snapshot.StopTimeout)
	assert.Equal(t, 12*time.Minute, cfg.Snapshot.StartTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Teardown.DetachTimeout)
	assert.Equal(t, 10.0, cfg.RateLimit.RPS)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, "/var/lib/snapwarden/journal", cfg.Journal.Dir)
	assert.Equal(t, 90, cfg.Journal.RetentionDays)
	assert.Equal(t, 50, cfg.History.Keep)
	assert.Equal(t, "/etc/snapwarden/policies", cfg.Policy.Path)
	assert.Equal(t, "snapwarden", cfg.OTEL.ServiceName)
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, 6*time.Hour, cfg.Daemon.Interval)
	assert.Equal(t, "web", cfg.Daemon.Project)
	assert.Equal(t, ":9100", cfg.Daemon.MetricsAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "[aws]\nprofile = \"default\"\n")
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, cfg.AWS.Region)
	assert.Equal(t, 1, cfg.Snapshot.Parallelism)
	assert.Equal(t, 10*time.Minute, cfg.Snapshot.StopTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Teardown.DetachTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Daemon.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "runs.db", filepath.Base(cfg.History.Path))
	assert.Equal(t, "journal", filepath.Base(cfg.Journal.Dir))
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, cfg.AWS.Region)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	content := `
[aws
region = "us-east-1"
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := `
[snapshot]
stop_timeout = "not-a-duration"
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot.stop_timeout")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"negative age", func(c *Config) { c.Snapshot.MinAgeDays = -1 }, "min_age_days"},
		{"zero parallelism", func(c *Config) { c.Snapshot.Parallelism = 0 }, "parallelism"},
		{"negative keep", func(c *Config) { c.History.Keep = -1 }, "keep must be at least 1"},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }, "rps"},
		{"short interval", func(c *Config) { c.Daemon.Interval = time.Second }, "interval"},
		{"sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 1.5 }, "sample_rate"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "unknown level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}
