// Package config provides YAML configuration parsing for the cascade bridge.
//
// This package enables running the bridge as a standalone binary with a
// configuration file, as an alternative to constructing a [cascade.Bridge]
// in code.
//
// Example configuration:
//
//	port: 7070
//	origin: ${HOSTNAME:-dev}/bridge
//	log_level: debug
//	shutdown_timeout: 10s
//
//	seed:
//	  path: context.yaml
//	  watch: true
//
//	values:
//	  theme: dark
//	  features:
//	    search: true
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultShutdownTimeout = 10 * time.Second
)

// Config is the root configuration structure for the bridge.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// Origin is recorded as the writer of updates made by the bridge process
	// itself. Supports environment variable substitution: ${VAR} or
	// ${VAR:-default}. Defaults to "<hostname>/<pid>".
	Origin string `yaml:"origin"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// ShutdownTimeout bounds how long the CLI waits for a graceful shutdown.
	// Accepts duration strings like "10s", "500ms". Defaults to 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Seed configures the seed file applied on startup.
	Seed SeedConfig `yaml:"seed"`

	// Values are written to the context on startup, before the seed file.
	Values map[string]any `yaml:"values"`
}

// SeedConfig describes a YAML or JSON file of initial context values.
type SeedConfig struct {
	// Path is the seed file. Relative paths are resolved against the
	// directory of the config file when loaded with [Load].
	// Supports environment variable substitution.
	Path string `yaml:"path"`

	// Watch re-applies changed keys when the file is modified.
	Watch bool `yaml:"watch"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Level returns the configured log level.
//
// Parse has already validated LogLevel, so unknown values fall back to info.
func (c *Config) Level() slog.Level {
	if level, ok := logLevels[c.LogLevel]; ok {
		return level
	}
	return slog.LevelInfo
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (present when a default was given)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// A relative seed.path is resolved against the directory containing the
// config file. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.Seed.Path != "" && !filepath.IsAbs(cfg.Seed.Path) {
		cfg.Seed.Path = filepath.Join(filepath.Dir(path), cfg.Seed.Path)
	}
	return cfg, nil
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in origin and seed.path. Defaults are
// applied for Port (8080), LogLevel (info) and ShutdownTimeout (10s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.ShutdownTimeout.Duration() < time.Second {
		return fmt.Errorf("shutdown_timeout must be at least 1s, got %s", c.ShutdownTimeout.Duration())
	}

	origin, err := expandEnvVars(c.Origin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	c.Origin = origin

	path, err := expandEnvVars(c.Seed.Path)
	if err != nil {
		return fmt.Errorf("seed.path: %w", err)
	}
	c.Seed.Path = path

	if c.Seed.Watch && c.Seed.Path == "" {
		return errors.New("seed.watch requires seed.path")
	}

	for k := range c.Values {
		if k == "" {
			return errors.New("values: keys cannot be empty")
		}
	}

	return nil
}
