// Package main provides the CLI entry point for ssh-mcp-server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/postalsys/ssh-mcp-server/internal/attach"
	"github.com/postalsys/ssh-mcp-server/internal/config"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/mcptools"
	"github.com/postalsys/ssh-mcp-server/internal/session"
	"github.com/postalsys/ssh-mcp-server/internal/sshconn"
	"github.com/postalsys/ssh-mcp-server/internal/supervisor"
	"github.com/postalsys/ssh-mcp-server/internal/web"
	"github.com/postalsys/ssh-mcp-server/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ssh-mcp-server",
		Short: "ssh-mcp-server - SSH session multiplexer for AI agents",
		Long: `ssh-mcp-server multiplexes persistent SSH shell sessions between an
AI agent and a human operator.

The agent drives sessions through MCP tools on stdio; the operator
watches and types into the same terminals through a browser or an
attached local terminal. Both surfaces share one PTY per session.`,
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(superviseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server on stdio",
		Long: `Start the server: MCP tools on stdin/stdout, diagnostics on stderr,
and (unless disabled) the web terminal on a local HTTP port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (optional)")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	sshCfg := sshconn.DefaultConfig()
	sshCfg.ConnectTimeout = cfg.SSH.ConnectTimeout
	sshCfg.KeepaliveInterval = cfg.SSH.KeepaliveInterval
	sshCfg.TermType = cfg.SSH.TermType
	sshCfg.InitialCols = cfg.SSH.InitialCols
	sshCfg.InitialRows = cfg.SSH.InitialRows
	sshCfg.Proxy = cfg.SSH.Proxy

	sessCfg := session.DefaultConfig()
	sessCfg.HistoryBytes = cfg.Session.HistoryBytes
	sessCfg.SubscriberQueue = cfg.Session.SubscriberQueue
	sessCfg.CommandQueue = cfg.Session.CommandQueue
	sessCfg.CancelGrace = cfg.Session.CancelGrace

	registry := session.NewRegistry(session.DefaultDialer(sshCfg, logger), sessCfg, logger)
	defer registry.CloseAll()

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web, registry, logger)
		if err := webServer.Start(); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
		defer func() {
			if err := webServer.Stop(); err != nil {
				logger.Error("web server shutdown failed", logging.KeyError, err)
			}
		}()
		logger.Info("web server listening", "port", webServer.Port())
	}

	dispatcher := mcptools.NewDispatcher(registry, webServer, cfg.Session.DefaultTimeout, logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ssh-mcp-server",
		Version: Version,
	}, nil)
	dispatcher.Register(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server started", "version", Version, "web_enabled", cfg.Web.Enabled)

	// Run blocks until the client disconnects or a signal cancels the
	// context. The deferred cleanup stops the web server first (removing
	// the port file), then closes the remaining sessions.
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	logger.Info("shutting down")
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration setup",
		Long:  "Walk through the configuration options and write a config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func attachCmd() *cobra.Command {
	var (
		host     string
		port     int
		portFile string
	)

	cmd := &cobra.Command{
		Use:   "attach <session-name>",
		Short: "Attach this terminal to a running session",
		Long: `Attach the local terminal to a session on a running server. Keystrokes
go to the shared PTY; press Ctrl-D to detach without closing the session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := attach.NewClient(attach.Config{
				Host:        host,
				Port:        port,
				SessionName: args[0],
				PortFile:    portFile,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return client.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "Server host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (read from the port file when 0)")
	cmd.Flags().StringVar(&portFile, "port-file", config.DefaultConfig().Web.PortFile, "Port file written by the server")

	return cmd
}

func superviseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the server as a supervised child process",
		Long: `Re-exec this binary as "serve" under a supervisor that pipes stdio
through and turns its own termination into a graceful child shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}

			childArgs := []string{"serve"}
			if configPath != "" {
				childArgs = append(childArgs, "--config", configPath)
			}

			sup := supervisor.New(supervisor.Config{
				Command: self,
				Args:    childArgs,
			}, logger)

			if err := sup.Start(); err != nil {
				return fmt.Errorf("failed to start child: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sup.Done():
				return sup.Wait()
			case sig := <-sigCh:
				logger.Info("forwarding shutdown to child", "signal", sig.String())
				return sup.Shutdown()
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (optional)")

	return cmd
}
