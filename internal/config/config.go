package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the gembridge.yaml configuration file
type Config struct {
	Version  string   `yaml:"version"`
	Binary   string   `yaml:"binary"`
	Model    string   `yaml:"model,omitempty"`
	Launch   Launch   `yaml:"launch"`
	Timeouts Timeouts `yaml:"timeouts"`
	Journal  Journal  `yaml:"journal"`
	Log      Log      `yaml:"log"`
}

// Launch controls how child processes are spawned
type Launch struct {
	// Mode is "auto", "pty" or "pipe". Auto tries a PTY and falls back
	// to plain pipes.
	Mode string            `yaml:"mode"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// Timeouts holds the exchange timing knobs. Durations are stored as
// seconds/milliseconds in the file and converted once at load.
type Timeouts struct {
	StartupS  int `yaml:"startup_s"`
	ExchangeS int `yaml:"exchange_s"`
	QuietMs   int `yaml:"quiet_ms"`
	PollMs    int `yaml:"poll_ms"`
}

// Journal configures the optional NDJSON call journal
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Log configures diagnostic logging
type Log struct {
	Level string `yaml:"level"`
}

// Default creates a Config with default values
func Default() *Config {
	return &Config{
		Version: "1.0",
		Binary:  "gemini",
		Launch: Launch{
			Mode: "auto",
		},
		Timeouts: Timeouts{
			StartupS:  30,
			ExchangeS: 300,
			QuietMs:   3000,
			PollMs:    100,
		},
		Journal: Journal{
			Enabled: false,
			Path:    "gembridge-journal.ndjson",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'")
	}
	if c.Binary == "" {
		return fmt.Errorf("configuration error: missing required field 'binary'\n\nHint: set the wrapped CLI command, e.g.\n  binary: gemini")
	}

	switch c.Launch.Mode {
	case "auto", "pty", "pipe":
	default:
		return fmt.Errorf("configuration error: invalid 'launch.mode' value: %q\n\nHint: use one of auto, pty, pipe", c.Launch.Mode)
	}

	if c.Timeouts.StartupS <= 0 {
		return fmt.Errorf("configuration error: 'timeouts.startup_s' must be positive, got %d", c.Timeouts.StartupS)
	}
	if c.Timeouts.ExchangeS <= 0 {
		return fmt.Errorf("configuration error: 'timeouts.exchange_s' must be positive, got %d", c.Timeouts.ExchangeS)
	}
	if c.Timeouts.QuietMs <= 0 {
		return fmt.Errorf("configuration error: 'timeouts.quiet_ms' must be positive, got %d", c.Timeouts.QuietMs)
	}
	if c.Timeouts.PollMs <= 0 {
		return fmt.Errorf("configuration error: 'timeouts.poll_ms' must be positive, got %d", c.Timeouts.PollMs)
	}
	if c.Timeouts.QuietMs/1000 >= c.Timeouts.ExchangeS {
		return fmt.Errorf("configuration error: 'timeouts.quiet_ms' (%d) must be shorter than 'timeouts.exchange_s' (%d)", c.Timeouts.QuietMs, c.Timeouts.ExchangeS)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("configuration error: invalid 'log.level' value: %q\n\nHint: use one of debug, info, warn, error", c.Log.Level)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("configuration error: 'journal.path' is required when the journal is enabled")
	}

	return nil
}

// StartupTimeout returns the startup window as a duration
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Timeouts.StartupS) * time.Second
}

// ExchangeTimeout returns the per-exchange ceiling as a duration
func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Timeouts.ExchangeS) * time.Second
}

// QuietPeriod returns the silence window that ends a response
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Timeouts.QuietMs) * time.Millisecond
}

// PollInterval returns the classifier polling cadence
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Timeouts.PollMs) * time.Millisecond
}

// LoadFromFile loads a configuration from a YAML file. Fields absent from
// the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
