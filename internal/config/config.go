// Package config provides configuration parsing and validation for ssh-mcp-server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Web     WebConfig     `yaml:"web"`
	SSH     SSHConfig     `yaml:"ssh"`
	Session SessionConfig `yaml:"session"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WebConfig contains the HTTP/WebSocket server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"` // host used in monitoring URLs
	Address string `yaml:"address"`
	// PortFile is where the bound port is written at startup.
	PortFile     string        `yaml:"port_file"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// InboundRate limits inbound WebSocket messages per subscriber
	// (messages per second; 0 disables the limiter).
	InboundRate  float64 `yaml:"inbound_rate"`
	InboundBurst int     `yaml:"inbound_burst"`
}

// SSHConfig contains transport settings shared by all sessions.
type SSHConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	// Proxy is an optional SOCKS5 proxy URL (socks5://host:port) used
	// when dialing SSH endpoints.
	Proxy string `yaml:"proxy"`
	// TermType is the terminal type requested for the PTY.
	TermType string `yaml:"term_type"`
	// InitialCols and InitialRows set the initial PTY window size.
	InitialCols int `yaml:"initial_cols"`
	InitialRows int `yaml:"initial_rows"`
}

// SessionConfig contains per-session tuning parameters.
type SessionConfig struct {
	// HistoryBytes bounds the replayable output history per session.
	HistoryBytes int `yaml:"history_bytes"`
	// SubscriberQueue bounds each subscriber's outbound chunk queue.
	SubscriberQueue int `yaml:"subscriber_queue"`
	// CommandQueue bounds pending command submissions per session.
	CommandQueue int `yaml:"command_queue"`
	// DefaultTimeout applies to exec calls that carry no timeout
	// (0 = no timeout).
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// CancelGrace is how long a cancellation waits for a fresh prompt
	// before the session is declared lost.
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

// DefaultConfig returns the default configuration. The server is fully
// operational with these values and no config file.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Web: WebConfig{
			Enabled:      true,
			Host:         "localhost",
			Address:      "127.0.0.1:0",
			PortFile:     ".ssh-mcp-server.port",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			InboundRate:  200,
			InboundBurst: 400,
		},
		SSH: SSHConfig{
			ConnectTimeout:    15 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			TermType:          "xterm-256color",
			InitialCols:       120,
			InitialRows:       30,
		},
		Session: SessionConfig{
			HistoryBytes:    256 * 1024,
			SubscriberQueue: 64,
			CommandQueue:    16,
			DefaultTimeout:  0,
			CancelGrace:     2 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for any
// omitted fields. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Session.HistoryBytes <= 0 {
		return fmt.Errorf("session history_bytes must be positive")
	}
	if c.Session.SubscriberQueue <= 0 {
		return fmt.Errorf("session subscriber_queue must be positive")
	}
	if c.Session.CommandQueue <= 0 {
		return fmt.Errorf("session command_queue must be positive")
	}
	if c.Session.CancelGrace <= 0 {
		return fmt.Errorf("session cancel_grace must be positive")
	}

	if c.SSH.InitialCols <= 0 || c.SSH.InitialRows <= 0 {
		return fmt.Errorf("ssh initial window size must be positive")
	}

	if c.Web.Enabled && c.Web.Address == "" {
		return fmt.Errorf("web address must be set when web is enabled")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
