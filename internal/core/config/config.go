// Package config handles configuration loading and validation for prdeck.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prdeck/prdeck/internal/core/host"
)

// Config holds the application configuration.
type Config struct {
	Logging Logging               `yaml:"logging"`
	Review  Review                `yaml:"review"`
	Hosts   map[string]HostConfig `yaml:"hosts"`
	DataDir string                `yaml:"-"` // set by caller, not from config file
}

// Logging configures the root logger.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Review holds review-behavior preferences.
type Review struct {
	// AutoMarkViewed marks a file viewed when it becomes the active
	// selection.
	AutoMarkViewed bool `yaml:"auto_mark_viewed"`
	// FileHistoryLimit caps how many commits a file-history fetch asks
	// the host for.
	FileHistoryLimit int `yaml:"file_history_limit"`
}

// HostConfig configures one hosting provider connection.
type HostConfig struct {
	Kind     host.Kind `yaml:"kind"`      // github or bitbucket
	BaseURL  string    `yaml:"base_url"`  // empty = the provider's public API
	TokenEnv string    `yaml:"token_env"` // env var holding the API token
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logging: Logging{
			Level: "info",
		},
		Review: Review{
			AutoMarkViewed:   true,
			FileHistoryLimit: 50,
		},
		Hosts: map[string]HostConfig{},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Review.FileHistoryLimit == 0 {
		c.Review.FileHistoryLimit = defaults.Review.FileHistoryLimit
	}
	if c.Hosts == nil {
		c.Hosts = map[string]HostConfig{}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Review.FileHistoryLimit < 1 {
		return fmt.Errorf("review.file_history_limit must be at least 1")
	}

	for name, h := range c.Hosts {
		switch h.Kind {
		case host.KindGitHub, host.KindBitbucket:
		default:
			return fmt.Errorf("host %q has unsupported kind %q", name, h.Kind)
		}
		if h.TokenEnv == "" {
			return fmt.Errorf("host %q must set token_env", name)
		}
	}

	return nil
}
