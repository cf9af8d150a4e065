// Package config loads the settings of the zairyu-nfc command.
//
// Settings come from, in increasing priority: the defaults below, a TOML or YAML file
// and ZAIRYU_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/zairyu-nfc/pkg/acquire"
	"github.com/gregLibert/zairyu-nfc/pkg/chunk"
	"github.com/gregLibert/zairyu-nfc/pkg/command"
	"github.com/gregLibert/zairyu-nfc/pkg/session"
)

// Environment variables overriding the file.
const (
	EnvReader    = "ZAIRYU_READER"
	EnvLogLevel  = "ZAIRYU_LOG_LEVEL"
	EnvChunkSize = "ZAIRYU_CHUNK_SIZE"
)

// Config is the full configuration.
type Config struct {
	Reader      ReaderConfig      `toml:"reader" yaml:"reader"`
	Session     SessionConfig     `toml:"session" yaml:"session"`
	Acquisition AcquisitionConfig `toml:"acquisition" yaml:"acquisition"`
	Log         LogConfig         `toml:"log" yaml:"log"`
}

// ReaderConfig selects the PC/SC reader. An empty name uses the first reader that is not
// a SAM slot.
type ReaderConfig struct {
	Name string `toml:"name" yaml:"name"`
}

// SessionConfig bounds the waits of the tag session.
type SessionConfig struct {
	PollTimeout     time.Duration `toml:"poll_timeout" yaml:"poll_timeout"`
	ExchangeTimeout time.Duration `toml:"exchange_timeout" yaml:"exchange_timeout"`
}

// AcquisitionConfig bounds one acquisition.
type AcquisitionConfig struct {
	Timeout      time.Duration `toml:"timeout" yaml:"timeout"`
	ChunkSize    int           `toml:"chunk_size" yaml:"chunk_size"`
	ChunkRetries int           `toml:"chunk_retries" yaml:"chunk_retries"`
	RetryDelay   time.Duration `toml:"retry_delay" yaml:"retry_delay"`
}

// LogConfig sets the level and the handler of the logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			PollTimeout:     15 * time.Second,
			ExchangeTimeout: 2 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			Timeout:      acquire.DefaultTimeout,
			ChunkSize:    chunk.DefaultPolicy.ChunkSize,
			ChunkRetries: chunk.DefaultPolicy.Retries,
			RetryDelay:   chunk.DefaultPolicy.RetryDelay,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file extension %q (expected .toml, .yaml or .yml)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides the configuration with the variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvReader); ok && v != "" {
		c.Reader.Name = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvChunkSize); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", EnvChunkSize, v)
		}
		c.Acquisition.ChunkSize = n
	}
	return nil
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.Session.PollTimeout < 0:
		return fmt.Errorf("session.poll_timeout must not be negative, got %s", c.Session.PollTimeout)
	case c.Session.ExchangeTimeout <= 0:
		return fmt.Errorf("session.exchange_timeout must be positive, got %s", c.Session.ExchangeTimeout)
	case c.Acquisition.Timeout <= 0:
		return fmt.Errorf("acquisition.timeout must be positive, got %s", c.Acquisition.Timeout)
	case c.Acquisition.ChunkSize < 1 || c.Acquisition.ChunkSize > command.MaxChunkLength:
		return fmt.Errorf("acquisition.chunk_size must be within 1..%d, got %d", command.MaxChunkLength, c.Acquisition.ChunkSize)
	case c.Acquisition.ChunkRetries < 0:
		return fmt.Errorf("acquisition.chunk_retries must not be negative, got %d", c.Acquisition.ChunkRetries)
	case c.Acquisition.RetryDelay < 0:
		return fmt.Errorf("acquisition.retry_delay must not be negative, got %s", c.Acquisition.RetryDelay)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SessionOptions converts the session section.
func (c Config) SessionOptions() session.Options {
	return session.Options{
		PollTimeout:     c.Session.PollTimeout,
		ExchangeTimeout: c.Session.ExchangeTimeout,
	}
}

// ChunkPolicy converts the chunk settings of the acquisition section.
func (c Config) ChunkPolicy() chunk.Policy {
	return chunk.Policy{
		ChunkSize:  c.Acquisition.ChunkSize,
		Retries:    c.Acquisition.ChunkRetries,
		RetryDelay: c.Acquisition.RetryDelay,
	}
}

// AcquireOptions builds the acquirer options; the caller adds the logger and recorder.
func (c Config) AcquireOptions() acquire.Options {
	return acquire.Options{
		Session: c.SessionOptions(),
		Policy:  c.ChunkPolicy(),
		Timeout: c.Acquisition.Timeout,
	}
}
