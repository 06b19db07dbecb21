// Package session implements the session core: one SSH shell multiplexed
// to a programmatic tool channel and any number of WebSocket subscribers,
// with echo normalization, browser-command gating, and cancellation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/postalsys/ssh-mcp-server/internal/broadcast"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/recovery"
	"github.com/postalsys/ssh-mcp-server/internal/sshconn"
	"github.com/postalsys/ssh-mcp-server/internal/wsproto"
)

// State is the session connection state. Transitions are monotonic:
// closing never goes back to connected.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes one session.
type Config struct {
	HistoryBytes    int
	SubscriberQueue int
	CommandQueue    int
	CancelGrace     time.Duration
	// ReadyTimeout bounds the wait for the shell's first canonical prompt.
	ReadyTimeout time.Duration
}

// DefaultConfig returns per-session defaults.
func DefaultConfig() Config {
	return Config{
		HistoryBytes:    256 * 1024,
		SubscriberQueue: 64,
		CommandQueue:    16,
		CancelGrace:     2 * time.Second,
		ReadyTimeout:    15 * time.Second,
	}
}

// Summary describes a session for list results and the monitoring socket.
type Summary struct {
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	Username      string    `json:"username"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Subscribers   int       `json:"subscribers"`
	HistorySize   string    `json:"historySize"`
	ExecutorState string    `json:"executorState"`
}

// Session owns one SSH shell and everything multiplexed onto it. All
// mutation of shell state flows through the executor; the HTTP/WS layer
// only submits messages and subscribes.
type Session struct {
	name      string
	auth      sshconn.Auth
	cfg       Config
	createdAt time.Time

	shell    Shell
	exec     *Executor
	hub      *broadcast.Hub
	commands *commandBuffer
	logger   *slog.Logger

	state      atomic.Int32
	lastActive atomic.Int64
	closeOnce  sync.Once
	done       chan struct{}
}

// New builds a session around an already-dialed shell. Call Start to begin
// pumping output.
func New(name string, auth sshconn.Auth, shell Shell, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With(logging.KeySession, name)

	s := &Session{
		name:      name,
		auth:      auth,
		cfg:       cfg,
		createdAt: time.Now(),
		shell:     shell,
		commands:  newCommandBuffer(),
		logger:    logger,
		done:      make(chan struct{}),
	}
	s.touch()
	SessionsActive.Inc()

	s.hub = broadcast.NewHub(cfg.HistoryBytes, cfg.SubscriberQueue, logger)

	hooks := Hooks{
		Locked: func(commandID string, source Source) {
			s.hub.PublishControl(wsproto.NewTerminalLockState(true, commandID, string(source)))
		},
		Unlocked: func(commandID string, source Source) {
			s.hub.PublishControl(wsproto.NewTerminalLockState(false, commandID, string(source)))
			s.hub.PublishControl(wsproto.NewTerminalReady())
		},
	}

	s.exec = NewExecutor(shell, func(chunk []byte) {
		s.touch()
		s.hub.Publish(chunk)
	}, hooks, ExecutorConfig{
		QueueCap:    cfg.CommandQueue,
		CancelGrace: cfg.CancelGrace,
	}, logger)

	return s
}

// Start launches the reader and transport watcher goroutines.
func (s *Session) Start() {
	go func() {
		defer recovery.RecoverWithLog(s.logger, "sessionReader")
		for chunk := range s.shell.Output() {
			s.touch()
			s.exec.Feed(chunk)
		}
	}()

	go func() {
		defer recovery.RecoverWithLog(s.logger, "sessionTransportWatcher")
		<-s.shell.Done()
		if err := s.shell.Err(); err != nil {
			s.logger.Warn("ssh transport lost", logging.KeyError, err)
		}
		s.close()
	}()
}

// WaitReady blocks until the shell produced its first canonical prompt or
// the ready timeout elapses.
func (s *Session) WaitReady(ctx context.Context) *Error {
	timeout := s.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.exec.Ready():
		s.advance(StateConnected)
		return nil
	case <-s.done:
		return NewError(KindTransportLost, "session closed during initialization")
	case <-timer.C:
		return NewError(KindUnreachable, "shell produced no prompt within %v", timeout)
	case <-ctx.Done():
		return NewError(KindUnreachable, "connect aborted: %v", ctx.Err())
	}
}

// Name returns the session's unique name.
func (s *Session) Name() string {
	return s.name
}

// State returns the connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// advance moves the state forward only; backward transitions are dropped.
func (s *Session) advance(to State) {
	for {
		cur := s.state.Load()
		if cur >= int32(to) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent output or submission.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Summary returns the session's list entry.
func (s *Session) Summary() Summary {
	return Summary{
		Name:          s.name,
		Host:          s.auth.Host,
		Username:      s.auth.Username,
		Status:        s.State().String(),
		CreatedAt:     s.createdAt,
		LastActivity:  s.LastActivity(),
		Subscribers:   s.hub.SubscriberCount(),
		HistorySize:   humanize.IBytes(uint64(s.hub.HistoryBytes())),
		ExecutorState: s.exec.State(),
	}
}

// Exec runs a command for the tool channel. The gating contract applies:
// if the browser-command buffer is non-empty it is drained into the error
// and the command is not submitted.
func (s *Session) Exec(ctx context.Context, command string, timeout time.Duration) (CommandResult, *Error) {
	if s.State() >= StateClosing {
		return CommandResult{ExitCode: -1}, NewError(KindTransportLost, "session is %s", s.State())
	}

	if drained := s.commands.Drain(); len(drained) > 0 {
		GatingRejectsTotal.Inc()
		return CommandResult{ExitCode: -1}, &Error{
			Kind:            KindBrowserCommandsExecuted,
			Message:         "User executed commands directly in browser",
			BrowserCommands: drained,
		}
	}

	req := NewRequest(command, SourceAgent, uuid.New().String(), timeout, nil)
	if err := s.exec.Submit(req); err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	s.touch()

	select {
	case out := <-req.Outcome():
		return out.Result, out.Err
	case <-ctx.Done():
		// The caller is gone; abandon the request and surface whatever
		// resolution the executor produces.
		s.exec.Abandon(req)
		out := <-req.Outcome()
		return out.Result, out.Err
	}
}

// SubmitBrowser accepts a browser-channel command unconditionally: it is
// recorded in the browser-command buffer, then run through the same state
// machine as tool commands.
func (s *Session) SubmitBrowser(command, commandID string, source Source) *Error {
	if s.State() >= StateClosing {
		return NewError(KindTransportLost, "session is %s", s.State())
	}
	if commandID == "" {
		commandID = uuid.New().String()
	}

	rec := s.commands.Append(command, commandID, source)
	req := NewRequest(command, source, commandID, 0, func(out Outcome) {
		s.commands.SetResult(rec, out.Result)
		if out.Err != nil {
			s.hub.PublishControl(wsproto.NewCommandError(
				commandID, string(source), out.Err.Error()))
		}
	})

	if err := s.exec.Submit(req); err != nil {
		s.hub.PublishControl(wsproto.NewCommandError(commandID, string(source), err.Error()))
		s.hub.PublishControl(wsproto.NewTerminalLockState(false, commandID, string(source)))
		return err
	}
	s.touch()
	return nil
}

// Cancel aborts the in-flight command on behalf of the tool channel.
func (s *Session) Cancel() *Error {
	return s.exec.Cancel()
}

// Signal delivers a signal from the browser channel. With a command in
// flight this cancels it the way a human would (control character); idle,
// the character goes straight to the shell.
func (s *Session) Signal(name string) *Error {
	if name != "SIGINT" {
		return NewError(KindInternal, "unsupported signal %q", name)
	}

	if err := s.exec.CancelWithInterrupt(); err == nil {
		return nil
	}

	if err := s.exec.WriteRaw([]byte{0x03}); err != nil {
		if serr, ok := err.(*Error); ok {
			return serr
		}
		return NewError(KindTransportLost, "interrupt write failed: %v", err)
	}
	return nil
}

// WriteRaw forwards raw keystrokes to the shell.
func (s *Session) WriteRaw(data []byte) error {
	s.touch()
	return s.exec.WriteRaw(data)
}

// Resize propagates a window-size change.
func (s *Session) Resize(cols, rows int) error {
	return s.shell.Resize(cols, rows)
}

// Attach adds a WebSocket subscriber: history snapshot first, then every
// later chunk in order.
func (s *Session) Attach() *broadcast.Subscriber {
	return s.hub.Attach()
}

// Detach removes a subscriber.
func (s *Session) Detach(sub *broadcast.Subscriber) {
	s.hub.Detach(sub)
}

// Snapshot returns the current history and last sequence, for state
// recovery on an existing socket.
func (s *Session) Snapshot() ([]byte, uint64) {
	return s.hub.Snapshot()
}

// LockState returns the current lock state message for onboarding and
// recovery.
func (s *Session) LockState() wsproto.TerminalLockState {
	if id, source, ok := s.exec.CurrentCommandID(); ok {
		return wsproto.NewTerminalLockState(true, id, string(source))
	}
	return wsproto.NewTerminalLockState(false, "", "")
}

// BrowserCommandCount exposes the gating buffer size, for summaries and
// tests.
func (s *Session) BrowserCommandCount() int {
	return s.commands.Size()
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close disposes the session: stop accepting subscribers, close the SSH
// transport, fail in-flight requests, drop buffers.
func (s *Session) Close() {
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.advance(StateClosing)
		s.logger.Info("session closing")

		s.hub.Close()
		s.shell.Close()
		s.exec.TransportLost()
		s.commands.Drain()

		s.advance(StateClosed)
		close(s.done)
		SessionsActive.Dec()
	})
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s@%s, %s)", s.name, s.auth.Username, s.auth.Host, s.State())
}
