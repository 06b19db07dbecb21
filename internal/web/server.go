// Package web serves the browser channel: the terminal page, the
// per-session WebSocket subscribers, and the monitoring endpoints, all on
// one TCP port. The bound port is published through a port file so the
// tool channel can hand out monitoring URLs.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/ssh-mcp-server/internal/config"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/session"
	"github.com/postalsys/ssh-mcp-server/internal/webui"
)

// Server is the single-port HTTP/WebSocket surface.
type Server struct {
	cfg      config.WebConfig
	registry *session.Registry
	logger   *slog.Logger

	server *http.Server
	addr   net.Addr

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewServer creates the web server. Call Start to bind.
func NewServer(cfg config.WebConfig, registry *session.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(logging.KeyComponent, "web"),
	}
}

// Start binds the listener, writes the port file, and serves in the
// background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("web server already running")
	}

	mux := http.NewServeMux()
	page := webui.Handler()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page.ServeHTTP(w, r)
	})
	mux.HandleFunc("/session/", s.handleSessionPage(page))
	mux.HandleFunc("/ws/session/", s.handleSessionWS)
	mux.HandleFunc("/ws/monitoring", s.handleMonitoringWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.addr = ln.Addr()

	if err := s.writePortFile(); err != nil {
		ln.Close()
		return err
	}

	// WebSocket connections are long-lived, so only the header read is
	// bounded; per-message deadlines are handled in the WS handlers.
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if serveErr := s.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("web server failed", logging.KeyError, serveErr)
		}
	}()

	s.logger.Info("web server listening", logging.KeyAddress, s.addr.String())
	return nil
}

// Stop shuts the server down and removes the port file.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	s.removePortFile()
	s.wg.Wait()
	return nil
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return 0
	}
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MonitoringURL returns the browser URL for the named session. Fails with
// web-unavailable when the web surface is disabled or not running, and
// not-found when the session does not exist.
func (s *Server) MonitoringURL(name string) (string, *session.Error) {
	if _, err := s.registry.Get(name); err != nil {
		return "", err
	}

	s.mu.Lock()
	running := s.running
	addr := s.addr
	s.mu.Unlock()

	if !running || addr == nil {
		return "", session.NewError(session.KindWebUnavailable, "web server is not running")
	}

	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", session.NewError(session.KindWebUnavailable, "web server address unknown")
	}

	host := s.cfg.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/session/%s", net.JoinHostPort(host, strconv.Itoa(tcp.Port)), name), nil
}

// handleSessionPage serves the terminal page for an existing session and
// 404s for absent ones.
func (s *Server) handleSessionPage(page http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/session/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}
		if _, err := s.registry.Get(name); err != nil {
			http.NotFound(w, r)
			return
		}
		page.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`+"\n", s.registry.Count())
}

func (s *Server) portFilePath() string {
	if s.cfg.PortFile == "" {
		return ".ssh-mcp-server.port"
	}
	return s.cfg.PortFile
}

func (s *Server) writePortFile() error {
	port := 0
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	path := s.portFilePath()
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write port file %s: %w", path, err)
	}
	return nil
}

func (s *Server) removePortFile() {
	path := s.portFilePath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove port file",
			"path", path, logging.KeyError, err)
	}
}

// ReadPortFile reads a previously written port file. Used by the attach
// subcommand to find a running server.
func ReadPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed port file %s: %w", path, err)
	}
	return port, nil
}
