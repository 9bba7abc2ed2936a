package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.CDPPort != 9222 {
		t.Errorf("expected CDPPort 9222, got %d", cfg.CDPPort)
	}
	if cfg.BROPPort != 9223 {
		t.Errorf("expected BROPPort 9223, got %d", cfg.BROPPort)
	}
	if cfg.ExtPort != 9224 {
		t.Errorf("expected ExtPort 9224, got %d", cfg.ExtPort)
	}
	if cfg.HTTPPort != 9225 {
		t.Errorf("expected HTTPPort 9225, got %d", cfg.HTTPPort)
	}

	if cfg.MaxConsoleEntriesPerTab != 1000 {
		t.Errorf("expected MaxConsoleEntriesPerTab 1000, got %d", cfg.MaxConsoleEntriesPerTab)
	}
	if cfg.MaxCallLogEntries != 1000 {
		t.Errorf("expected MaxCallLogEntries 1000, got %d", cfg.MaxCallLogEntries)
	}

	if cfg.ExtensionCallTimeoutMS != 30000 {
		t.Errorf("expected ExtensionCallTimeoutMS 30000, got %d", cfg.ExtensionCallTimeoutMS)
	}
	if cfg.ClientEventHighWatermark != 256 {
		t.Errorf("expected ClientEventHighWatermark 256, got %d", cfg.ClientEventHighWatermark)
	}

	if cfg.TargetIDPrefix != "target" {
		t.Errorf("expected TargetIDPrefix target, got %s", cfg.TargetIDPrefix)
	}
	if cfg.EnableRequestLog != false {
		t.Errorf("expected EnableRequestLog false, got %v", cfg.EnableRequestLog)
	}
	if cfg.DefaultBrowserContext != true {
		t.Errorf("expected DefaultBrowserContext true, got %v", cfg.DefaultBrowserContext)
	}
}

func TestExtensionCallTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExtensionCallTimeoutMS = 5000
	if got, want := cfg.ExtensionCallTimeout().Seconds(), 5.0; got != want {
		t.Errorf("ExtensionCallTimeout() = %v, want %v", got, want)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
cdp_port: 19222
brop_port: 19223
ext_port: 19224
http_port: 19225
max_console_entries_per_tab: 500
max_call_log_entries: 2000
extension_call_timeout_ms: 15000
client_event_high_watermark: 64
target_id_prefix: "t"
enable_request_log: true
default_browser_context: false
`

	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.CDPPort != 19222 {
		t.Errorf("expected CDPPort 19222, got %d", cfg.CDPPort)
	}
	if cfg.BROPPort != 19223 {
		t.Errorf("expected BROPPort 19223, got %d", cfg.BROPPort)
	}
	if cfg.MaxConsoleEntriesPerTab != 500 {
		t.Errorf("expected MaxConsoleEntriesPerTab 500, got %d", cfg.MaxConsoleEntriesPerTab)
	}
	if cfg.ExtensionCallTimeoutMS != 15000 {
		t.Errorf("expected ExtensionCallTimeoutMS 15000, got %d", cfg.ExtensionCallTimeoutMS)
	}
	if cfg.ClientEventHighWatermark != 64 {
		t.Errorf("expected ClientEventHighWatermark 64, got %d", cfg.ClientEventHighWatermark)
	}
	if cfg.TargetIDPrefix != "t" {
		t.Errorf("expected TargetIDPrefix t, got %s", cfg.TargetIDPrefix)
	}
	if cfg.EnableRequestLog != true {
		t.Errorf("expected EnableRequestLog true, got %v", cfg.EnableRequestLog)
	}
	if cfg.DefaultBrowserContext != false {
		t.Errorf("expected DefaultBrowserContext false, got %v", cfg.DefaultBrowserContext)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFilePartialConfig(t *testing.T) {
	// Config file with only some values should use defaults for others
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	configContent := `
cdp_port: 19222
target_id_prefix: "t"
`

	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.CDPPort != 19222 {
		t.Errorf("expected CDPPort 19222, got %d", cfg.CDPPort)
	}
	if cfg.TargetIDPrefix != "t" {
		t.Errorf("expected TargetIDPrefix t, got %s", cfg.TargetIDPrefix)
	}

	// Verify defaults are preserved
	if cfg.BROPPort != 9223 {
		t.Errorf("expected BROPPort default 9223, got %d", cfg.BROPPort)
	}
	if cfg.MaxConsoleEntriesPerTab != 1000 {
		t.Errorf("expected MaxConsoleEntriesPerTab default 1000, got %d", cfg.MaxConsoleEntriesPerTab)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero cdp port",
			modify:  func(c *Config) { c.CDPPort = 0 },
			wantErr: true,
		},
		{
			name:    "zero brop port",
			modify:  func(c *Config) { c.BROPPort = 0 },
			wantErr: true,
		},
		{
			name:    "max console entries too small",
			modify:  func(c *Config) { c.MaxConsoleEntriesPerTab = 0 },
			wantErr: true,
		},
		{
			name:    "extension call timeout zero",
			modify:  func(c *Config) { c.ExtensionCallTimeoutMS = 0 },
			wantErr: true,
		},
		{
			name:    "empty target id prefix",
			modify:  func(c *Config) { c.TargetIDPrefix = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
