package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/postalsys/ssh-mcp-server/internal/filter"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

// Shell is the executor's view of the SSH shell adapter. Implemented by
// sshconn.Adapter; faked in tests.
type Shell interface {
	// Output yields raw byte chunks; closed on transport loss.
	Output() <-chan []byte
	// Write writes raw bytes to the shell's stdin.
	Write(p []byte) error
	// SendSignal delivers a named signal (e.g. "SIGINT") natively.
	SendSignal(name string) error
	// Interrupt writes the ETX control character, as Ctrl-C would.
	Interrupt() error
	// Resize propagates a window-size change.
	Resize(cols, rows int) error
	// Done is closed when the transport is lost or the shell closed.
	Done() <-chan struct{}
	// Err returns the transport error, if any.
	Err() error
	// Close terminates the shell and connection.
	Close() error
}

// MinTimeout is the smallest honored exec timeout; smaller values are
// rejected.
const MinTimeout = time.Second

// execState is the executor's state machine position.
type execState int

const (
	stateIdle execState = iota
	stateRunning
	stateCancelling
)

func (s execState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Outcome resolves one ExecutionRequest. Err is nil on normal completion.
// On cancellation or timeout the partial result rides along.
type Outcome struct {
	Result CommandResult
	Err    *Error
}

// Request is one command submission. It carries at most one response,
// delivered on Outcome exactly once.
type Request struct {
	Command   string
	Source    Source
	CommandID string
	Timeout   time.Duration

	outcome   chan Outcome
	resolved  bool
	onResolve func(Outcome)
}

// NewRequest creates a request ready for submission. onResolve, if
// non-nil, runs before the outcome is delivered (used to mutate the
// browser-command record).
func NewRequest(command string, source Source, commandID string, timeout time.Duration, onResolve func(Outcome)) *Request {
	return &Request{
		Command:   command,
		Source:    source,
		CommandID: commandID,
		Timeout:   timeout,
		outcome:   make(chan Outcome, 1),
		onResolve: onResolve,
	}
}

// Outcome returns the channel carrying the request's single resolution.
func (r *Request) Outcome() <-chan Outcome {
	return r.outcome
}

// Hooks notify the session of executor state changes so it can broadcast
// lock-state messages. Hooks run under the executor lock and must not call
// back into the executor.
type Hooks struct {
	Locked   func(commandID string, source Source)
	Unlocked func(commandID string, source Source)
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// QueueCap bounds pending submissions; overflow fails with busy.
	QueueCap int
	// CancelGrace is how long a cancellation waits for a fresh prompt
	// before escalating to transport-lost.
	CancelGrace time.Duration
}

// Executor is the control core: it serializes command submissions,
// enforces completion signaling through the filter, and manages
// cancellation. All shell stdin writes flow through it.
//
// The executor owns the session's filter. The single mutex guards both, so
// command registration and raw-byte feeding never interleave.
type Executor struct {
	mu     sync.Mutex
	shell  Shell
	filter *filter.Filter
	hooks  Hooks
	cfg    ExecutorConfig
	logger *slog.Logger

	state        execState
	current      *Request
	queue        []*Request
	cancelReason ErrorKind
	timeoutTimer *time.Timer
	graceTimer   *time.Timer
	closed       bool
}

// NewExecutor creates an executor and its filter. emit receives normalized
// chunks (under the executor lock; it must not call back in).
func NewExecutor(shell Shell, emit func([]byte), hooks Hooks, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 16
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 2 * time.Second
	}

	e := &Executor{
		shell:  shell,
		hooks:  hooks,
		cfg:    cfg,
		logger: logger,
	}
	e.filter = filter.New(emit, e.completeLocked, logger)
	return e
}

// Feed pushes raw shell bytes through the filter. Called only from the
// session reader goroutine.
func (e *Executor) Feed(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter.Feed(data)
}

// Ready is closed once the shell finished initializing (first canonical
// prompt observed).
func (e *Executor) Ready() <-chan struct{} {
	return e.filter.Ready()
}

// Submit accepts a request or rejects it immediately. Accepted requests
// resolve exactly once on their Outcome channel; rejected ones never do.
func (e *Executor) Submit(req *Request) *Error {
	if req.Timeout > 0 && req.Timeout < MinTimeout {
		return NewError(KindMissingParams,
			"timeout %v below minimum %v", req.Timeout, MinTimeout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return NewError(KindTransportLost, "session closed")
	}

	if e.state == stateIdle && e.current == nil {
		e.startLocked(req)
		return nil
	}

	if len(e.queue) >= e.cfg.QueueCap {
		return NewError(KindBusy, "command queue full (%d pending)", len(e.queue))
	}
	e.queue = append(e.queue, req)
	return nil
}

// startLocked marks the command with the filter, then writes its bytes to
// the shell. Registration precedes the write so the filter's echo window
// is armed before any response byte can arrive.
func (e *Executor) startLocked(req *Request) {
	wire := filter.Instrument(req.Command)
	e.filter.BeginCommand(req.Command, wire, true)

	if err := e.shell.Write([]byte(wire + "\n")); err != nil {
		e.filter.Abort()
		e.resolveLocked(req, Outcome{
			Result: CommandResult{ExitCode: -1},
			Err:    NewError(KindTransportLost, "shell write failed: %v", err),
		})
		return
	}

	e.current = req
	e.state = stateRunning
	CommandsSubmittedTotal.WithLabelValues(string(req.Source)).Inc()

	if e.hooks.Locked != nil {
		e.hooks.Locked(req.CommandID, req.Source)
	}

	if req.Timeout > 0 {
		e.timeoutTimer = time.AfterFunc(req.Timeout, func() {
			e.cancelRequest(req, KindTimeout)
		})
	}
}

// completeLocked is the filter's completion callback. The filter only runs
// under e.mu (via Feed or BeginCommand), so the lock is already held.
func (e *Executor) completeLocked(c filter.Completion) {
	req := e.current
	if req == nil {
		e.logger.Debug("prompt without in-flight command")
		return
	}

	e.stopTimersLocked()

	out := Outcome{
		Result: CommandResult{Stdout: c.Stdout, ExitCode: c.ExitCode},
	}
	if e.state == stateCancelling {
		out.Err = NewError(e.cancelReason, "command %q interrupted", req.Command)
	}

	e.current = nil
	e.state = stateIdle
	e.resolveLocked(req, out)

	if e.hooks.Unlocked != nil {
		e.hooks.Unlocked(req.CommandID, req.Source)
	}

	if len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.startLocked(next)
	}
}

// Cancel aborts the in-flight command. Fails with not-running when the
// executor is idle.
func (e *Executor) Cancel() *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateRunning || e.current == nil {
		return NewError(KindNotRunning, "no command running")
	}
	e.cancelLocked(e.current, KindCancelled, false)
	return nil
}

// CancelWithInterrupt aborts the in-flight command with the control
// character regardless of its source. Used for browser-originated signals.
func (e *Executor) CancelWithInterrupt() *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateRunning || e.current == nil {
		return NewError(KindNotRunning, "no command running")
	}
	e.cancelLocked(e.current, KindCancelled, true)
	return nil
}

// Abandon detaches a request whose caller stopped waiting. A queued request
// resolves cancelled immediately; the running one is interrupted and
// resolves through the normal cancellation path.
func (e *Executor) Abandon(req *Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, queued := range e.queue {
		if queued == req {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			e.resolveLocked(req, Outcome{
				Result: CommandResult{ExitCode: -1},
				Err:    NewError(KindCancelled, "caller abandoned the request"),
			})
			return
		}
	}
	if e.current == req && e.state == stateRunning {
		e.cancelLocked(req, KindCancelled, false)
	}
}

// cancelRequest cancels req if it is still the running command. Used by
// timeout timers, which may fire after the command already completed.
func (e *Executor) cancelRequest(req *Request, reason ErrorKind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != req || e.state != stateRunning {
		return
	}
	e.cancelLocked(req, reason, false)
}

// cancelLocked transitions running -> cancelling and delivers the
// interrupt. Tool-channel commands get a native SIGINT; browser-channel
// commands (and forced interrupts) get the control character a human would
// type.
func (e *Executor) cancelLocked(req *Request, reason ErrorKind, forceInterrupt bool) {
	e.state = stateCancelling
	e.cancelReason = reason
	e.stopTimersLocked()

	var err error
	if req.Source == SourceAgent && !forceInterrupt {
		err = e.shell.SendSignal("SIGINT")
	} else {
		err = e.shell.Interrupt()
	}
	if err != nil {
		e.logger.Warn("interrupt delivery failed", logging.KeyError, err)
	}

	CommandsCancelledTotal.WithLabelValues(string(reason)).Inc()

	e.graceTimer = time.AfterFunc(e.cfg.CancelGrace, func() {
		e.escalate(req)
	})
}

// escalate fires when a cancellation saw no fresh prompt within the grace
// period. The shell is considered wedged; the session goes down as
// transport-lost.
func (e *Executor) escalate(req *Request) {
	e.mu.Lock()
	if e.current != req || e.state != stateCancelling {
		e.mu.Unlock()
		return
	}

	e.logger.Error("cancellation did not produce a prompt, closing session",
		"command", req.Command)
	e.failAllLocked(NewError(KindTransportLost,
		"shell unresponsive after interrupt"))
	e.mu.Unlock()

	// Closing the shell wakes the session's transport watcher, which
	// finishes the teardown.
	e.shell.Close()
}

// TransportLost resolves every outstanding request with transport-lost and
// refuses further submissions. Called by the session when the adapter dies.
func (e *Executor) TransportLost() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAllLocked(NewError(KindTransportLost, "ssh transport lost"))
}

func (e *Executor) failAllLocked(cause *Error) {
	if e.closed {
		return
	}
	e.closed = true
	e.stopTimersLocked()

	if req := e.current; req != nil {
		e.current = nil
		e.resolveLocked(req, Outcome{
			Result: CommandResult{ExitCode: -1},
			Err:    cause,
		})
		if e.hooks.Unlocked != nil {
			e.hooks.Unlocked(req.CommandID, req.Source)
		}
	}
	for _, req := range e.queue {
		e.resolveLocked(req, Outcome{
			Result: CommandResult{ExitCode: -1},
			Err:    cause,
		})
	}
	e.queue = nil
	e.state = stateIdle
}

// resolveLocked delivers a request's single outcome. A second resolution
// attempt is a no-op, enforcing the exactly-once contract.
func (e *Executor) resolveLocked(req *Request, out Outcome) {
	if req.resolved {
		return
	}
	req.resolved = true

	if req.onResolve != nil {
		req.onResolve(out)
	}
	req.outcome <- out

	outcome := "ok"
	if out.Err != nil {
		outcome = string(out.Err.Kind)
	}
	CommandsCompletedTotal.WithLabelValues(string(req.Source), outcome).Inc()
}

func (e *Executor) stopTimersLocked() {
	if e.timeoutTimer != nil {
		e.timeoutTimer.Stop()
		e.timeoutTimer = nil
	}
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
}

// WriteRaw forwards raw keystrokes to the shell's stdin. No command
// boundary is known, so no echo injection or gating applies.
func (e *Executor) WriteRaw(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return NewError(KindTransportLost, "session closed")
	}
	return e.shell.Write(p)
}

// Running reports whether a command is currently in flight.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != stateIdle
}

// State returns the state machine position as a string, for summaries.
func (e *Executor) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.String()
}

// CurrentCommandID returns the in-flight command's id and source, if any.
func (e *Executor) CurrentCommandID() (string, Source, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", "", false
	}
	return e.current.CommandID, e.current.Source, true
}
