// Package wizard provides an interactive setup wizard for ssh-mcp-server.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/postalsys/ssh-mcp-server/internal/config"
	"gopkg.in/yaml.v3"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	configPath, err := w.askConfigPath()
	if err != nil {
		return nil, err
	}

	logLevel, logFormat, err := w.askLogging()
	if err != nil {
		return nil, err
	}

	webCfg, err := w.askWebConfig()
	if err != nil {
		return nil, err
	}

	sshCfg, err := w.askSSHConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg, err := w.askSessionConfig()
	if err != nil {
		return nil, err
	}

	cfg := w.buildConfig(logLevel, logFormat, webCfg, sshCfg, sessionCfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	w.printSummary(configPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: configPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  ___ ___ _  _   __  __  ___ ___   ___
 / __/ __| || | |  \/  |/ __| _ \ / __| ___ _ ___ _____ _ _
 \__ \__ \ __ | | |\/| | (__|  _/ \__ \/ -_) '_\ V / -_) '_|
 |___/___/_||_| |_|  |_|\___|_|   |___/\___|_|  \_/\___|_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  SSH Session Multiplexer for AI Agents - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askConfigPath() (configPath string, err error) {
	configPath = "./config.yaml"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where to write the configuration file."),

			huh.NewInput().
				Title("Config File Path").
				Placeholder("./config.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askLogging() (logLevel, logFormat string, err error) {
	logLevel = "info"
	logFormat = "text"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging").
				Description("Logs go to stderr; stdout is reserved for the MCP channel."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text (human-readable)", "text"),
					huh.NewOption("JSON (machine-readable)", "json"),
				).
				Value(&logFormat),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askWebConfig() (config.WebConfig, error) {
	cfg := config.DefaultConfig().Web

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Web Interface").
				Description("Browser terminal and monitoring dashboard.\nAll sessions share one port."),

			huh.NewConfirm().
				Title("Enable web interface?").
				Value(&cfg.Enabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}

	if !cfg.Enabled {
		return cfg, nil
	}

	webForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Description("Port 0 picks a free port at startup").
				Placeholder("127.0.0.1:0").
				Value(&cfg.Address).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("listen address is required")
					}
					if _, _, err := net.SplitHostPort(s); err != nil {
						return fmt.Errorf("invalid address format (use host:port)")
					}
					return nil
				}),

			huh.NewInput().
				Title("Monitoring URL Host").
				Description("Hostname used when building session URLs").
				Placeholder("localhost").
				Value(&cfg.Host),

			huh.NewInput().
				Title("Port File").
				Description("Where the bound port is written at startup").
				Placeholder(".ssh-mcp-server.port").
				Value(&cfg.PortFile),
		),
	).WithTheme(w.theme)

	if err := webForm.Run(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (w *Wizard) askSSHConfig() (config.SSHConfig, error) {
	cfg := config.DefaultConfig().SSH
	connectTimeout := durationSeconds(cfg.ConnectTimeout)
	keepalive := durationSeconds(cfg.KeepaliveInterval)
	var useProxy bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("SSH Transport").
				Description("Settings shared by all outbound SSH connections."),

			huh.NewInput().
				Title("Connect Timeout (seconds)").
				Placeholder(connectTimeout).
				Value(&connectTimeout).
				Validate(validatePositiveSeconds),

			huh.NewInput().
				Title("Keepalive Interval (seconds)").
				Description("0 disables keepalive probes").
				Placeholder(keepalive).
				Value(&keepalive).
				Validate(validateSeconds),

			huh.NewInput().
				Title("Terminal Type").
				Description("TERM value requested for the remote PTY").
				Placeholder("xterm-256color").
				Value(&cfg.TermType),

			huh.NewConfirm().
				Title("Dial through a SOCKS5 proxy?").
				Value(&useProxy),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}

	cfg.ConnectTimeout = parseSeconds(connectTimeout, cfg.ConnectTimeout)
	cfg.KeepaliveInterval = parseSeconds(keepalive, cfg.KeepaliveInterval)

	if useProxy {
		proxyForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Proxy URL").
					Placeholder("socks5://127.0.0.1:1080").
					Value(&cfg.Proxy).
					Validate(func(s string) error {
						if !strings.HasPrefix(s, "socks5://") {
							return fmt.Errorf("proxy URL must start with socks5://")
						}
						return nil
					}),
			),
		).WithTheme(w.theme)

		if err := proxyForm.Run(); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (w *Wizard) askSessionConfig() (config.SessionConfig, error) {
	cfg := config.DefaultConfig().Session
	historyKiB := strconv.Itoa(cfg.HistoryBytes / 1024)
	cancelGrace := durationSeconds(cfg.CancelGrace)
	defaultTimeout := durationSeconds(cfg.DefaultTimeout)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Session Tuning").
				Description("Per-session buffers and command handling."),

			huh.NewInput().
				Title("Output History (KiB)").
				Description("Scrollback replayed to new browser subscribers").
				Placeholder(historyKiB).
				Value(&historyKiB).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("must be a positive number")
					}
					return nil
				}),

			huh.NewInput().
				Title("Default Command Timeout (seconds)").
				Description("Applies to exec calls without a timeout; 0 = unlimited").
				Placeholder(defaultTimeout).
				Value(&defaultTimeout).
				Validate(validateSeconds),

			huh.NewInput().
				Title("Cancel Grace (seconds)").
				Description("How long a cancel waits for a fresh prompt").
				Placeholder(cancelGrace).
				Value(&cancelGrace).
				Validate(validatePositiveSeconds),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return cfg, err
	}

	if n, err := strconv.Atoi(historyKiB); err == nil && n > 0 {
		cfg.HistoryBytes = n * 1024
	}
	cfg.DefaultTimeout = parseSeconds(defaultTimeout, cfg.DefaultTimeout)
	cfg.CancelGrace = parseSeconds(cancelGrace, cfg.CancelGrace)

	return cfg, nil
}

func (w *Wizard) buildConfig(
	logLevel, logFormat string,
	webCfg config.WebConfig,
	sshCfg config.SSHConfig,
	sessionCfg config.SessionConfig,
) *config.Config {
	cfg := config.DefaultConfig()

	cfg.Log.Level = logLevel
	cfg.Log.Format = logFormat
	cfg.Web = webCfg
	cfg.SSH = sshCfg
	cfg.Session = sessionCfg

	return cfg
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# ssh-mcp-server configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Log level:    %s\n", cfg.Log.Level)

	if cfg.Web.Enabled {
		fmt.Printf("  Web:          %s (port file %s)\n", cfg.Web.Address, cfg.Web.PortFile)
	} else {
		fmt.Println("  Web:          disabled")
	}

	if cfg.SSH.Proxy != "" {
		fmt.Printf("  Proxy:        %s\n", cfg.SSH.Proxy)
	}

	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Printf("    ssh-mcp-server serve -c %s\n", configPath)
	fmt.Println()
}

func durationSeconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

func parseSeconds(s string, fallback time.Duration) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func validateSeconds(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

func validatePositiveSeconds(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}
