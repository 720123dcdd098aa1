// Package model defines contextcore's configuration, handoff records and
// the content types (parts, messages, artifacts) agents exchange.
package model

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Agent   AgentConfig   `yaml:"agent"`
	Handoff HandoffConfig `yaml:"handoff"`
	Store   StoreConfig   `yaml:"store"`
	Graph   GraphConfig   `yaml:"graph"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	RBAC    RBACConfig    `yaml:"rbac"`
}

type ProjectConfig struct {
	ID        string `yaml:"id"`
	Namespace string `yaml:"namespace"`
}

type AgentConfig struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	LockPath     string   `yaml:"lock_path"`
}

type HandoffConfig struct {
	PollIntervalMs   int64 `yaml:"poll_interval_ms"`
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`
	InputTimeoutMs   int64 `yaml:"input_timeout_ms"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "file" or "sqlite"
	Path    string `yaml:"path"`
}

type GraphConfig struct {
	DescriptorsDir  string `yaml:"descriptors_dir"`
	DefaultMaxDepth int    `yaml:"default_max_depth"`
	ValidateSchema  bool   `yaml:"validate_schema"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AuditConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
	Checksum bool   `yaml:"checksum"`
}

type RBACConfig struct {
	PolicyPath string `yaml:"policy_path"`
}

const (
	DefaultPollIntervalMs   int64 = 1000
	DefaultHandoffTimeoutMs int64 = 300_000
	DefaultMaxDepth               = 3
)

// DefaultConfig returns a fresh configuration with defaults applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Project.ID == "" {
		c.Project.ID = "default"
	}
	if c.Project.Namespace == "" {
		c.Project.Namespace = "default"
	}
	if c.Handoff.PollIntervalMs <= 0 {
		c.Handoff.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Handoff.DefaultTimeoutMs <= 0 {
		c.Handoff.DefaultTimeoutMs = DefaultHandoffTimeoutMs
	}
	if c.Handoff.InputTimeoutMs <= 0 {
		c.Handoff.InputTimeoutMs = DefaultInputTimeoutMs
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Path == "" {
		c.Store.Path = ".contextcore"
	}
	if c.Graph.DefaultMaxDepth <= 0 {
		c.Graph.DefaultMaxDepth = DefaultMaxDepth
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("store.backend %q: must be memory, file or sqlite", c.Store.Backend)
	}
	if c.Handoff.PollIntervalMs > c.Handoff.DefaultTimeoutMs {
		return fmt.Errorf("handoff.poll_interval_ms (%d) exceeds default_timeout_ms (%d)",
			c.Handoff.PollIntervalMs, c.Handoff.DefaultTimeoutMs)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Handoff.PollIntervalMs) * time.Millisecond
}

// LoadConfig reads a YAML config file. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
