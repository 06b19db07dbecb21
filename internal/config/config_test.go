package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Session.HistoryBytes != 256*1024 {
		t.Errorf("HistoryBytes = %d, want %d", cfg.Session.HistoryBytes, 256*1024)
	}
	if cfg.Web.PortFile != ".ssh-mcp-server.port" {
		t.Errorf("PortFile = %q", cfg.Web.PortFile)
	}
	if cfg.SSH.TermType != "xterm-256color" {
		t.Errorf("TermType = %q", cfg.SSH.TermType)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Session.SubscriberQueue != 64 {
		t.Errorf("SubscriberQueue = %d, want 64", cfg.Session.SubscriberQueue)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
log:
  level: debug
  format: json
web:
  enabled: true
  address: "127.0.0.1:8700"
session:
  history_bytes: 1024
  cancel_grace: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Web.Address != "127.0.0.1:8700" {
		t.Errorf("Address = %q", cfg.Web.Address)
	}
	if cfg.Session.HistoryBytes != 1024 {
		t.Errorf("HistoryBytes = %d, want 1024", cfg.Session.HistoryBytes)
	}
	if cfg.Session.CancelGrace != 5*time.Second {
		t.Errorf("CancelGrace = %v, want 5s", cfg.Session.CancelGrace)
	}
	// Omitted fields keep their defaults.
	if cfg.Session.SubscriberQueue != 64 {
		t.Errorf("SubscriberQueue = %d, want default 64", cfg.Session.SubscriberQueue)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero history", func(c *Config) { c.Session.HistoryBytes = 0 }},
		{"zero subscriber queue", func(c *Config) { c.Session.SubscriberQueue = 0 }},
		{"zero command queue", func(c *Config) { c.Session.CommandQueue = 0 }},
		{"zero cancel grace", func(c *Config) { c.Session.CancelGrace = 0 }},
		{"zero window", func(c *Config) { c.SSH.InitialCols = 0 }},
		{"web enabled without address", func(c *Config) { c.Web.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Web.Address = "127.0.0.1:9100"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Log.Level != "warn" {
		t.Errorf("Level = %q, want warn", loaded.Log.Level)
	}
	if loaded.Web.Address != "127.0.0.1:9100" {
		t.Errorf("Address = %q", loaded.Web.Address)
	}
}
