// Package mcptools maps the tool vocabulary of the programmatic channel
// onto registry and session operations. Tool failures are structured
// payloads with success=false; nothing is thrown across the protocol
// boundary.
package mcptools

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/session"
	"github.com/postalsys/ssh-mcp-server/internal/sshconn"
	"github.com/postalsys/ssh-mcp-server/internal/web"
)

// Dispatcher owns the tool handlers.
type Dispatcher struct {
	registry *session.Registry
	web      *web.Server // nil when the web surface is disabled
	// defaultTimeout applies to exec calls without an explicit timeout
	// (0 = unbounded).
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry and optional
// web server.
func NewDispatcher(registry *session.Registry, webServer *web.Server, defaultTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dispatcher{
		registry:       registry,
		web:            webServer,
		defaultTimeout: defaultTimeout,
		logger:         logger.With(logging.KeyComponent, "mcptools"),
	}
}

// Register adds every tool to the MCP server.
func (d *Dispatcher) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "connect",
		Description: "Open a named SSH session to a remote host. The session persists until disconnect.",
	}, d.handleConnect)

	mcp.AddTool(server, &mcp.Tool{
		Name: "exec",
		Description: "Run a shell command in an existing session and return stdout and the exit code. " +
			"Fails with browser-commands-executed when a user has typed commands in the browser since the last exec.",
	}, d.handleExec)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel",
		Description: "Cancel the command currently running in a session.",
	}, d.handleCancel)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list",
		Description: "List all open sessions with their status.",
	}, d.handleList)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "disconnect",
		Description: "Close a session and release its SSH connection.",
	}, d.handleDisconnect)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "monitoring-url",
		Description: "Return the browser URL where a session's terminal can be watched live.",
	}, d.handleMonitoringURL)
}

// ConnectArgs are the connect tool arguments. Exactly one credential field
// should be set.
type ConnectArgs struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Username    string `json:"username"`
	Port        int    `json:"port,omitempty"`
	Password    string `json:"password,omitempty"`
	PrivateKey  string `json:"privateKey,omitempty"`
	KeyFilePath string `json:"keyFilePath,omitempty"`
}

// ConnectionInfo summarizes a session for tool results.
type ConnectionInfo struct {
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
}

// ConnectResult is the connect tool result.
type ConnectResult struct {
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Connection *ConnectionInfo `json:"connection,omitempty"`
}

func (d *Dispatcher) handleConnect(ctx context.Context, req *mcp.CallToolRequest, args ConnectArgs) (*mcp.CallToolResult, ConnectResult, error) {
	if args.Name == "" || args.Host == "" || args.Username == "" {
		return nil, ConnectResult{
			Success: false,
			Error:   string(session.KindMissingParams),
			Message: "name, host and username are required",
		}, nil
	}

	auth := sshconn.Auth{
		Host:        args.Host,
		Port:        args.Port,
		Username:    args.Username,
		Password:    args.Password,
		PrivateKey:  args.PrivateKey,
		KeyFilePath: args.KeyFilePath,
	}

	s, serr := d.registry.Create(ctx, args.Name, auth)
	if serr != nil {
		d.logger.Warn("connect failed",
			logging.KeySession, args.Name,
			logging.KeyHost, args.Host,
			logging.KeyError, serr)
		return nil, ConnectResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}

	sum := s.Summary()
	return nil, ConnectResult{
		Success: true,
		Connection: &ConnectionInfo{
			Name:         sum.Name,
			Host:         sum.Host,
			Username:     sum.Username,
			Status:       sum.Status,
			LastActivity: sum.LastActivity,
		},
	}, nil
}

// ExecArgs are the exec tool arguments. Timeout is in milliseconds;
// values below 1000 are rejected.
type ExecArgs struct {
	SessionName string `json:"sessionName"`
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"`
}

// ExecResult is the exec tool result. On the gating error the drained
// browser commands are attached and retryAllowed is true.
type ExecResult struct {
	Success         bool                     `json:"success"`
	Error           string                   `json:"error,omitempty"`
	Message         string                   `json:"message,omitempty"`
	Result          *session.CommandResult   `json:"result,omitempty"`
	BrowserCommands []session.BrowserCommand `json:"browserCommands,omitempty"`
	RetryAllowed    bool                     `json:"retryAllowed,omitempty"`
}

func (d *Dispatcher) handleExec(ctx context.Context, req *mcp.CallToolRequest, args ExecArgs) (*mcp.CallToolResult, ExecResult, error) {
	if args.SessionName == "" || args.Command == "" {
		return nil, ExecResult{
			Success: false,
			Error:   string(session.KindMissingParams),
			Message: "sessionName and command are required",
		}, nil
	}

	s, serr := d.registry.Get(args.SessionName)
	if serr != nil {
		return nil, ExecResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}

	timeout := d.defaultTimeout
	if args.Timeout != 0 {
		timeout = time.Duration(args.Timeout) * time.Millisecond
	}

	result, serr := s.Exec(ctx, args.Command, timeout)
	if serr != nil {
		out := ExecResult{Success: false, Error: string(serr.Kind), Message: serr.Message}
		if serr.Kind == session.KindBrowserCommandsExecuted {
			out.BrowserCommands = serr.BrowserCommands
			out.RetryAllowed = serr.RetryAllowed()
		}
		// Cancelled and timed-out commands still carry their partial output.
		if serr.Kind == session.KindCancelled || serr.Kind == session.KindTimeout {
			out.Result = &result
		}
		return nil, out, nil
	}

	return nil, ExecResult{Success: true, Result: &result}, nil
}

// SessionArgs name a session; shared by cancel, disconnect, and
// monitoring-url.
type SessionArgs struct {
	SessionName string `json:"sessionName"`
}

// CancelResult is the cancel tool result.
type CancelResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func (d *Dispatcher) handleCancel(ctx context.Context, req *mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, CancelResult, error) {
	if args.SessionName == "" {
		return nil, CancelResult{
			Success: false,
			Error:   string(session.KindMissingParams),
			Message: "sessionName is required",
		}, nil
	}

	s, serr := d.registry.Get(args.SessionName)
	if serr != nil {
		return nil, CancelResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}
	if serr := s.Cancel(); serr != nil {
		return nil, CancelResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}
	return nil, CancelResult{Success: true, Cancelled: true}, nil
}

// ListArgs is the empty argument object of the list tool.
type ListArgs struct{}

// ListResult is the list tool result.
type ListResult struct {
	Success  bool              `json:"success"`
	Sessions []session.Summary `json:"sessions"`
}

func (d *Dispatcher) handleList(ctx context.Context, req *mcp.CallToolRequest, args ListArgs) (*mcp.CallToolResult, ListResult, error) {
	return nil, ListResult{Success: true, Sessions: d.registry.List()}, nil
}

// DisconnectResult is the disconnect tool result.
type DisconnectResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (d *Dispatcher) handleDisconnect(ctx context.Context, req *mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, DisconnectResult, error) {
	if args.SessionName == "" {
		return nil, DisconnectResult{
			Success: false,
			Error:   string(session.KindMissingParams),
			Message: "sessionName is required",
		}, nil
	}

	if serr := d.registry.Dispose(args.SessionName); serr != nil {
		return nil, DisconnectResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}
	return nil, DisconnectResult{
		Success: true,
		Message: "session " + args.SessionName + " disconnected",
	}, nil
}

// MonitoringURLResult is the monitoring-url tool result.
type MonitoringURLResult struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	MonitoringURL string `json:"monitoringUrl,omitempty"`
}

func (d *Dispatcher) handleMonitoringURL(ctx context.Context, req *mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, MonitoringURLResult, error) {
	if args.SessionName == "" {
		return nil, MonitoringURLResult{
			Success: false,
			Error:   string(session.KindMissingParams),
			Message: "sessionName is required",
		}, nil
	}

	if d.web == nil {
		if _, serr := d.registry.Get(args.SessionName); serr != nil {
			return nil, MonitoringURLResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
		}
		return nil, MonitoringURLResult{
			Success: false,
			Error:   string(session.KindWebUnavailable),
			Message: "web server is disabled",
		}, nil
	}

	url, serr := d.web.MonitoringURL(args.SessionName)
	if serr != nil {
		return nil, MonitoringURLResult{Success: false, Error: string(serr.Kind), Message: serr.Message}, nil
	}
	return nil, MonitoringURLResult{Success: true, MonitoringURL: url}, nil
}
