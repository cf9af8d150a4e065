package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvReader, EnvLogLevel, EnvChunkSize} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, 15*time.Second, cfg.Session.PollTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.ExchangeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Acquisition.Timeout)
	assert.Equal(t, 256, cfg.Acquisition.ChunkSize)
	assert.Equal(t, 2, cfg.Acquisition.ChunkRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "zairyu.toml", `
[reader]
name = "ACS ACR1252 PICC"

[session]
exchange_timeout = "500ms"

[acquisition]
chunk_size = 128
chunk_retries = 4

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ACS ACR1252 PICC", cfg.Reader.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ExchangeTimeout)
	assert.Equal(t, 15*time.Second, cfg.Session.PollTimeout, "unset keys keep their default")
	assert.Equal(t, 128, cfg.Acquisition.ChunkSize)
	assert.Equal(t, 4, cfg.Acquisition.ChunkRetries)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "zairyu.yaml", `
session:
  poll_timeout: 1m
acquisition:
  timeout: 45s
  retry_delay: 10ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Session.PollTimeout)
	assert.Equal(t, 45*time.Second, cfg.Acquisition.Timeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.RetryDelay)
	assert.Equal(t, 256, cfg.Acquisition.ChunkSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "zairyu.yml", "reader:\n  name: from-file\nlog:\n  level: warn\n")
	t.Setenv(EnvReader, "from-env")
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvChunkSize, " 64 ")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Reader.Name)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 64, cfg.Acquisition.ChunkSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
	}{
		{"Missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.toml") }, nil},
		{"Unsupported extension", func(t *testing.T) string { return writeFile(t, "zairyu.ini", "") }, nil},
		{"Malformed TOML", func(t *testing.T) string { return writeFile(t, "zairyu.toml", "[reader\n") }, nil},
		{"Chunk size not an integer", func(*testing.T) string { return "" }, map[string]string{EnvChunkSize: "big"}},
		{"Chunk size too large", func(*testing.T) string { return "" }, map[string]string{EnvChunkSize: "512"}},
		{"Unknown log level", func(*testing.T) string { return "" }, map[string]string{EnvLogLevel: "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero exchange timeout":  func(c *Config) { c.Session.ExchangeTimeout = 0 },
		"negative poll timeout":  func(c *Config) { c.Session.PollTimeout = -time.Second },
		"zero acquisition limit": func(c *Config) { c.Acquisition.Timeout = 0 },
		"zero chunk size":        func(c *Config) { c.Acquisition.ChunkSize = 0 },
		"negative retries":       func(c *Config) { c.Acquisition.ChunkRetries = -1 },
		"negative retry delay":   func(c *Config) { c.Acquisition.RetryDelay = -time.Millisecond },
		"unknown format":         func(c *Config) { c.Log.Format = "xml" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Acquisition.ChunkSize = 64

	opts := cfg.AcquireOptions()
	assert.Equal(t, cfg.Session.ExchangeTimeout, opts.Session.ExchangeTimeout)
	assert.Equal(t, 64, opts.Policy.ChunkSize)
	assert.Equal(t, cfg.Acquisition.RetryDelay, opts.Policy.RetryDelay)
	assert.Equal(t, cfg.Acquisition.Timeout, opts.Timeout)
}
