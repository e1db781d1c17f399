// Package config loads the proxy configuration from an optional YAML
// file, with command-line flags taking precedence.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the proxy settings.
type Config struct {
	// SIP settings
	BindAddr string `yaml:"bind_addr"` // Address to bind for listening
	Port     int    `yaml:"port"`
	// FallbackIP is advertised in Via and Record-Route when the host
	// itself only resolves to loopback.
	FallbackIP string `yaml:"fallback_ip"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DiaryFile string `yaml:"diary_file"`

	// MetricsAddr serves /metrics and /health. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

func Default() *Config {
	return &Config{
		BindAddr:    "0.0.0.0",
		Port:        5060,
		LogLevel:    "info",
		LogFile:     "proxy.log",
		DiaryFile:   "phoneCallDiary.txt",
		MetricsAddr: ":8080",
	}
}

// Load reads and parses the configuration file over the defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid UDP port: %d (must be 0-65535)", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.DiaryFile == "" {
		return fmt.Errorf("diary file cannot be empty")
	}
	return nil
}
