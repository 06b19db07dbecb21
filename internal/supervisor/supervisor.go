// Package supervisor runs the serve process as a supervised child: stdio
// piped through so the MCP client talks to the child directly, stderr kept
// as a diagnostics channel, and shutdown delivered as SIGTERM with a
// bounded grace period before SIGKILL.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

// DefaultGracePeriod bounds how long a SIGTERM'd child may take to exit.
const DefaultGracePeriod = 10 * time.Second

// Config describes the supervised child.
type Config struct {
	Command     string
	Args        []string
	GracePeriod time.Duration
}

// Supervisor owns one child process.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// New creates a supervisor. Call Start to spawn the child.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With(logging.KeyComponent, "supervisor"),
		done:   make(chan struct{}),
	}
}

// Start spawns the child with the supervisor's stdio piped through. Stdout
// carries the tool-channel protocol; stderr is diagnostics only.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("child already started")
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", s.cfg.Command, err)
	}
	s.cmd = cmd
	s.logger.Info("child started",
		"command", s.cfg.Command, logging.KeyPID, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Done is closed when the child exits for any reason.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the child exits and returns its exit error, if any.
func (s *Supervisor) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown terminates the child: SIGTERM, then SIGKILL after the grace
// period. Returns the child's exit error.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return errors.New("child not started")
	}

	select {
	case <-s.done:
		return s.Wait()
	default:
	}

	s.logger.Info("stopping child", logging.KeyPID, cmd.Process.Pid)
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		s.logger.Warn("SIGTERM delivery failed", logging.KeyError, err)
	}

	select {
	case <-s.done:
	case <-time.After(s.cfg.GracePeriod):
		s.logger.Warn("grace period elapsed, killing child",
			logging.KeyPID, cmd.Process.Pid)
		if err := cmd.Process.Signal(unix.SIGKILL); err != nil {
			s.logger.Warn("SIGKILL delivery failed", logging.KeyError, err)
		}
		<-s.done
	}
	return s.Wait()
}

// Pid returns the child's process id, or 0 before Start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
