// Package config loads the recovery engine's runtime configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/navihq/recovery-core/internal/domain"
)

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`

	// Event pipeline.
	WorkerCount         int     `yaml:"worker_count"`
	MaxInFlight         int     `yaml:"max_in_flight"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Self-healing.
	HealingMaxAttempts    int     `yaml:"healing_max_attempts"`
	HealingMinConfidence  float64 `yaml:"healing_min_confidence"`
	SessionTimeoutMinutes int     `yaml:"session_timeout_minutes"`
	SessionRetentionDays  int     `yaml:"session_retention_days"`
}

// Load reads a YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 3
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 10
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.HealingMaxAttempts == 0 {
		c.HealingMaxAttempts = 2
	}
	if c.HealingMinConfidence == 0 {
		c.HealingMinConfidence = 0.7
	}
	if c.SessionTimeoutMinutes == 0 {
		c.SessionTimeoutMinutes = 30
	}
	if c.SessionRetentionDays == 0 {
		c.SessionRetentionDays = 7
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.WorkerCount < 1 {
		problems = append(problems, "worker_count must be at least 1")
	}
	if c.MaxInFlight < 1 {
		problems = append(problems, "max_in_flight must be at least 1")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		problems = append(problems, "confidence_threshold must be in [0,1]")
	}
	if c.HealingMinConfidence < 0 || c.HealingMinConfidence > 1 {
		problems = append(problems, "healing_min_confidence must be in [0,1]")
	}
	if c.HealingMaxAttempts < 1 {
		problems = append(problems, "healing_max_attempts must be at least 1")
	}

	if len(problems) > 0 {
		return &domain.CoreError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
