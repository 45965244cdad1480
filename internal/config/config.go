// Package config loads and validates the autopilot configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/total-audio/autopilot/internal/gateway"
	"github.com/total-audio/autopilot/internal/logging"
	"github.com/total-audio/autopilot/internal/replay"
	"github.com/total-audio/autopilot/internal/scheduler"
)

// Config represents the main configuration
type Config struct {
	Version   string                `yaml:"version"`
	Gateway   *gateway.Config       `yaml:"gateway"`
	Store     *StoreConfig          `yaml:"store"`
	Scheduler *scheduler.Config     `yaml:"scheduler"`
	Replay    *replay.MonitorConfig `yaml:"replay"`
	Logging   *logging.Config       `yaml:"logging"`
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Gateway: &gateway.Config{
			Host: "127.0.0.1",
			Port: 9090,
		},
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".autopilot", "data"),
		},
		Scheduler: scheduler.DefaultConfig(),
		Replay:    replay.DefaultMonitorConfig(),
		Logging:   logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Logging != nil {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".autopilot", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Scheduler != nil {
		if c.Scheduler.DefaultConcurrency < 0 {
			return fmt.Errorf("invalid default concurrency: %d", c.Scheduler.DefaultConcurrency)
		}
		for role, n := range c.Scheduler.RoleConcurrency {
			if n < 1 {
				return fmt.Errorf("invalid concurrency %d for role %q", n, role)
			}
		}
	}
	if c.Replay != nil && (c.Replay.DriftThreshold < 0 || c.Replay.DriftThreshold > 100) {
		return fmt.Errorf("invalid drift threshold: %f", c.Replay.DriftThreshold)
	}
	return nil
}
