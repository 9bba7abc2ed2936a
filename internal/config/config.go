// Package config provides configuration management for the bridge.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the current version of the bridge.
// This is set at build time via ldflags.
var Version = "dev"

// Config holds all configuration options for the bridge.
type Config struct {
	// Network endpoints (§6)
	CDPPort int `yaml:"cdp_port"`
	BROPPort int `yaml:"brop_port"`
	ExtPort  int `yaml:"ext_port"`
	HTTPPort int `yaml:"http_port"`

	// Bounds
	MaxConsoleEntriesPerTab int `yaml:"max_console_entries_per_tab"`
	MaxCallLogEntries       int `yaml:"max_call_log_entries"`

	// Timeouts & backpressure
	ExtensionCallTimeoutMS   int `yaml:"extension_call_timeout_ms"`
	ClientEventHighWatermark int `yaml:"client_event_high_watermark"`

	// Identifiers
	TargetIDPrefix string `yaml:"target_id_prefix"`

	// Logging
	EnableRequestLog bool `yaml:"enable_request_log"`

	// Open Question #1 decision (SPEC_FULL.md): Target.createTarget without an
	// explicit browserContextId uses a default context created at startup.
	DefaultBrowserContext bool `yaml:"default_browser_context"`
}

// ExtensionCallTimeout returns the configured extension call timeout as a
// time.Duration.
func (c *Config) ExtensionCallTimeout() time.Duration {
	return time.Duration(c.ExtensionCallTimeoutMS) * time.Millisecond
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CDPPort:  9222,
		BROPPort: 9223,
		ExtPort:  9224,
		HTTPPort: 9225,

		MaxConsoleEntriesPerTab: 1000,
		MaxCallLogEntries:       1000,

		ExtensionCallTimeoutMS:   30000,
		ClientEventHighWatermark: 256,

		TargetIDPrefix: "target",

		EnableRequestLog: false,

		DefaultBrowserContext: true,
	}
}

// LoadFromFile loads configuration from a YAML file.
// Values from the file override the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.CDPPort <= 0 {
		return fmt.Errorf("cdp_port must be positive")
	}
	if c.BROPPort <= 0 {
		return fmt.Errorf("brop_port must be positive")
	}
	if c.ExtPort <= 0 {
		return fmt.Errorf("ext_port must be positive")
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("http_port must be positive")
	}
	if c.MaxConsoleEntriesPerTab < 1 {
		return fmt.Errorf("max_console_entries_per_tab must be at least 1")
	}
	if c.MaxCallLogEntries < 1 {
		return fmt.Errorf("max_call_log_entries must be at least 1")
	}
	if c.ExtensionCallTimeoutMS < 1 {
		return fmt.Errorf("extension_call_timeout_ms must be at least 1")
	}
	if c.ClientEventHighWatermark < 1 {
		return fmt.Errorf("client_event_high_watermark must be at least 1")
	}
	if c.TargetIDPrefix == "" {
		return fmt.Errorf("target_id_prefix is required")
	}
	return nil
}
