package session

import "fmt"

// ErrorKind classifies every failure a tool call or session operation can
// surface. Kinds cross the dispatcher boundary as structured payloads,
// never as thrown errors.
type ErrorKind string

const (
	KindMissingParams           ErrorKind = "missing-params"
	KindExists                  ErrorKind = "exists"
	KindNotFound                ErrorKind = "not-found"
	KindAuthFailed              ErrorKind = "auth-failed"
	KindUnreachable             ErrorKind = "unreachable"
	KindTransportLost           ErrorKind = "transport-lost"
	KindBrowserCommandsExecuted ErrorKind = "browser-commands-executed"
	KindBusy                    ErrorKind = "busy"
	KindNotRunning              ErrorKind = "not-running"
	KindCancelled               ErrorKind = "cancelled"
	KindTimeout                 ErrorKind = "timeout"
	KindWebUnavailable          ErrorKind = "web-unavailable"
	KindInternal                ErrorKind = "internal"
)

// Error is a structured session error. For gating errors the drained
// browser commands ride along so the caller can reconcile.
type Error struct {
	Kind    ErrorKind
	Message string
	// BrowserCommands is populated for KindBrowserCommandsExecuted.
	BrowserCommands []BrowserCommand
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// NewError creates a session error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// RetryAllowed reports whether the caller may immediately retry the same
// call. Only gating errors qualify: draining the buffer clears the gate.
func (e *Error) RetryAllowed() bool {
	return e.Kind == KindBrowserCommandsExecuted
}
