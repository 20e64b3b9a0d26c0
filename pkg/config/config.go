// Package config holds a YAML application configuration. The core
// packages never read configuration implicitly and no package in this
// module loads a Config; a program loads one and passes the values down
// as options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from Go duration syntax
// ("500ms", "2s") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the demo application configuration.
type Config struct {
	// Log configures the stderr logger.
	Log LogConfig `yaml:"log"`

	// Grace is the shutdown grace period, applied to both the registry
	// drain and the goroutine join.
	Grace Duration `yaml:"grace"`

	// HTTP configures the demo status endpoint.
	HTTP HTTPConfig `yaml:"http"`
}

// LogConfig configures the stdr-backed logger.
type LogConfig struct {
	// Verbosity is the maximum enabled V-level.
	Verbosity int `yaml:"verbosity"`
	// Prefix is prepended to every log line.
	Prefix string `yaml:"prefix"`
}

// HTTPConfig configures the demo HTTP server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Verbosity: 0,
			Prefix:    "lifetime: ",
		},
		Grace: Duration(2 * time.Second),
		HTTP: HTTPConfig{
			Addr: ":5555",
		},
	}
}

// FromEnv creates a Config from environment variables, on top of the
// defaults. Supported variables:
//   - LIFETIME_LOG_VERBOSITY: integer V-level (default: 0)
//   - LIFETIME_GRACE: Go duration, e.g. "2s" (default: 2s)
//   - LIFETIME_HTTP_ADDR: listen address (default: ":5555")
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LIFETIME_LOG_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.Verbosity = n
		}
	}
	if v := os.Getenv("LIFETIME_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Grace = Duration(d)
		}
	}
	if v := os.Getenv("LIFETIME_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	return cfg
}

// Load reads a YAML config file on top of the env-derived defaults.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
