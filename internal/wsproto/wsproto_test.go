package wsproto

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeInbound_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got any)
	}{
		{
			name:  "terminal_input",
			input: `{"type":"terminal_input","sessionName":"s1","command":"pwd","commandId":"b-1","source":"user"}`,
			check: func(t *testing.T, got any) {
				msg, ok := got.(TerminalInput)
				if !ok {
					t.Fatalf("got %T", got)
				}
				if msg.Command != "pwd" || msg.CommandID != "b-1" {
					t.Errorf("decoded %+v", msg)
				}
			},
		},
		{
			name:  "terminal_input_raw",
			input: `{"type":"terminal_input_raw","data":"ls\r"}`,
			check: func(t *testing.T, got any) {
				msg, ok := got.(TerminalInputRaw)
				if !ok {
					t.Fatalf("got %T", got)
				}
				if msg.Data != "ls\r" {
					t.Errorf("data = %q", msg.Data)
				}
			},
		},
		{
			name:  "terminal_signal",
			input: `{"type":"terminal_signal","sessionName":"s1","signal":"SIGINT"}`,
			check: func(t *testing.T, got any) {
				msg, ok := got.(TerminalSignal)
				if !ok {
					t.Fatalf("got %T", got)
				}
				if msg.Signal != "SIGINT" {
					t.Errorf("signal = %q", msg.Signal)
				}
			},
		},
		{
			name:  "terminal_resize",
			input: `{"type":"terminal_resize","cols":80,"rows":24}`,
			check: func(t *testing.T, got any) {
				msg, ok := got.(TerminalResize)
				if !ok {
					t.Fatalf("got %T", got)
				}
				if msg.Cols != 80 || msg.Rows != 24 {
					t.Errorf("size = %dx%d", msg.Cols, msg.Rows)
				}
			},
		},
		{
			name:  "request_state_recovery",
			input: `{"type":"request_state_recovery","sessionName":"s1"}`,
			check: func(t *testing.T, got any) {
				if _, ok := got.(RequestStateRecovery); !ok {
					t.Fatalf("got %T", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeInbound() error = %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestDecodeInbound_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"teleport_me"}`},
		{"missing type", `{"command":"ls"}`},
		{"input without command", `{"type":"terminal_input","sessionName":"s1"}`},
		{"raw without data", `{"type":"terminal_input_raw"}`},
		{"signal without signal", `{"type":"terminal_signal","sessionName":"s1"}`},
		{"resize with zero cols", `{"type":"terminal_resize","cols":0,"rows":24}`},
		{"resize with negative rows", `{"type":"terminal_resize","cols":80,"rows":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInbound([]byte(tt.input)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestTerminalOutputShape(t *testing.T) {
	msg := NewTerminalOutput("hello\r\n", "agent", 42)

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != TypeTerminalOutput {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["data"] != "hello\r\n" {
		t.Errorf("data = %v", decoded["data"])
	}
	if decoded["sequence"].(float64) != 42 {
		t.Errorf("sequence = %v", decoded["sequence"])
	}
	// CR-LF survives JSON encoding.
	if !strings.Contains(string(data), `\r\n`) {
		t.Errorf("CR-LF not preserved: %s", data)
	}
}

func TestLockStateShape(t *testing.T) {
	data, err := Encode(NewTerminalLockState(true, "c-1", "agent"))
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["isLocked"] != true {
		t.Errorf("isLocked = %v", decoded["isLocked"])
	}
	if decoded["commandId"] != "c-1" {
		t.Errorf("commandId = %v", decoded["commandId"])
	}

	// Unlocked state omits the empty command id.
	data, _ = Encode(NewTerminalLockState(false, "", ""))
	if strings.Contains(string(data), "commandId") {
		t.Errorf("empty commandId not omitted: %s", data)
	}
}

func TestReadyAndMalformedShapes(t *testing.T) {
	data, _ := Encode(NewTerminalReady())
	if !strings.Contains(string(data), TypeTerminalReady) {
		t.Errorf("ready = %s", data)
	}

	data, _ = Encode(NewMalformedMessageHandled())
	if !strings.Contains(string(data), TypeMalformedMessageHandled) {
		t.Errorf("malformed ack = %s", data)
	}
}
