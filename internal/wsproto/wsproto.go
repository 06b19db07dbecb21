// Package wsproto defines the per-session WebSocket message taxonomy. All
// messages are JSON objects tagged with a type field; inbound payloads are
// modeled as explicit variants with one schema each, and unknown or
// malformed payloads are rejected at the single decode site.
package wsproto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminators.
const (
	// Server to client.
	TypeTerminalOutput          = "terminal_output"
	TypeTerminalLockState       = "terminal_lock_state"
	TypeTerminalReady           = "terminal_ready"
	TypeCommandError            = "command_error"
	TypeMalformedMessageHandled = "malformed_message_handled"

	// Client to server.
	TypeTerminalInput        = "terminal_input"
	TypeTerminalInputRaw     = "terminal_input_raw"
	TypeTerminalSignal       = "terminal_signal"
	TypeTerminalResize       = "terminal_resize"
	TypeRequestStateRecovery = "request_state_recovery"
)

// TerminalOutput carries one normalized chunk. Data may contain CR-LF and
// ANSI sequences; both must survive to the terminal emulator.
type TerminalOutput struct {
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// NewTerminalOutput builds a terminal_output message.
func NewTerminalOutput(data, source string, seq uint64) TerminalOutput {
	return TerminalOutput{
		Type:      TypeTerminalOutput,
		Data:      data,
		Source:    source,
		Timestamp: time.Now(),
		Sequence:  seq,
	}
}

// TerminalLockState announces whether the terminal accepts input.
type TerminalLockState struct {
	Type      string `json:"type"`
	IsLocked  bool   `json:"isLocked"`
	CommandID string `json:"commandId,omitempty"`
	Source    string `json:"source,omitempty"`
}

// NewTerminalLockState builds a terminal_lock_state message.
func NewTerminalLockState(locked bool, commandID, source string) TerminalLockState {
	return TerminalLockState{
		Type:      TypeTerminalLockState,
		IsLocked:  locked,
		CommandID: commandID,
		Source:    source,
	}
}

// TerminalReady signals the executor returned to idle.
type TerminalReady struct {
	Type string `json:"type"`
}

// NewTerminalReady builds a terminal_ready message.
func NewTerminalReady() TerminalReady {
	return TerminalReady{Type: TypeTerminalReady}
}

// CommandError reports a browser-channel command failure.
type CommandError struct {
	Type         string `json:"type"`
	CommandID    string `json:"commandId"`
	Source       string `json:"source"`
	ErrorMessage string `json:"errorMessage"`
}

// NewCommandError builds a command_error message.
func NewCommandError(commandID, source, message string) CommandError {
	return CommandError{
		Type:         TypeCommandError,
		CommandID:    commandID,
		Source:       source,
		ErrorMessage: message,
	}
}

// MalformedMessageHandled acknowledges that an invalid inbound message was
// dropped without disrupting the socket.
type MalformedMessageHandled struct {
	Type string `json:"type"`
}

// NewMalformedMessageHandled builds the acknowledgement message.
func NewMalformedMessageHandled() MalformedMessageHandled {
	return MalformedMessageHandled{Type: TypeMalformedMessageHandled}
}

// TerminalInput submits a complete command line via the browser channel.
type TerminalInput struct {
	SessionName string `json:"sessionName"`
	Command     string `json:"command"`
	CommandID   string `json:"commandId"`
	Source      string `json:"source"`
}

// TerminalInputRaw forwards raw keystrokes to shell stdin.
type TerminalInputRaw struct {
	Data string `json:"data"`
}

// TerminalSignal requests signal delivery to the foreground process.
type TerminalSignal struct {
	SessionName string `json:"sessionName"`
	Signal      string `json:"signal"`
}

// TerminalResize propagates a window-size change.
type TerminalResize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// RequestStateRecovery asks for a fresh history snapshot and lock state.
type RequestStateRecovery struct {
	SessionName string `json:"sessionName"`
}

// envelope extracts the discriminator.
type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses a client message into its typed variant. Unknown
// types and schema violations return an error; the caller answers with
// malformed_message_handled and keeps the socket open.
func DecodeInbound(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	switch env.Type {
	case TypeTerminalInput:
		var msg TerminalInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if msg.Command == "" {
			return nil, fmt.Errorf("%s requires command", env.Type)
		}
		return msg, nil

	case TypeTerminalInputRaw:
		var msg TerminalInputRaw
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if msg.Data == "" {
			return nil, fmt.Errorf("%s requires data", env.Type)
		}
		return msg, nil

	case TypeTerminalSignal:
		var msg TerminalSignal
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if msg.Signal == "" {
			return nil, fmt.Errorf("%s requires signal", env.Type)
		}
		return msg, nil

	case TypeTerminalResize:
		var msg TerminalResize
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if msg.Cols <= 0 || msg.Rows <= 0 {
			return nil, fmt.Errorf("%s requires positive cols and rows", env.Type)
		}
		return msg, nil

	case TypeRequestStateRecovery:
		var msg RequestStateRecovery
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// Encode marshals any outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
