package attach

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/ssh-mcp-server/internal/wsproto"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{SessionName: "alpha"})
	if c.cfg.Host != "localhost" {
		t.Errorf("default host = %q, want %q", c.cfg.Host, "localhost")
	}

	c = NewClient(Config{Host: "example.internal", SessionName: "alpha"})
	if c.cfg.Host != "example.internal" {
		t.Errorf("host = %q, want %q", c.cfg.Host, "example.internal")
	}
}

func TestRawInputMessage(t *testing.T) {
	msg, detach := rawInputMessage([]byte{0x04})
	if !detach {
		t.Error("Ctrl-D did not request detach")
	}
	if msg != nil {
		t.Errorf("detach produced message %v", msg)
	}

	msg, detach = rawInputMessage([]byte("ls -la\r"))
	if detach {
		t.Error("regular input requested detach")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != wsproto.TypeTerminalInputRaw {
		t.Errorf("type = %q, want %q", decoded.Type, wsproto.TypeTerminalInputRaw)
	}
	if decoded.Data != "ls -la\r" {
		t.Errorf("data = %q, want %q", decoded.Data, "ls -la\r")
	}

	// Ctrl-C is a keystroke like any other in raw mode.
	if _, detach := rawInputMessage([]byte{0x03}); detach {
		t.Error("Ctrl-C requested detach")
	}
}

func TestRunWithoutPort(t *testing.T) {
	c := NewClient(Config{
		SessionName: "alpha",
		PortFile:    filepath.Join(t.TempDir(), "missing.port"),
	})

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded without a port or port file")
	}
	if !strings.Contains(err.Error(), "port file") {
		t.Errorf("error = %v, want port file mention", err)
	}
}

func TestRunResolvesPortFromFile(t *testing.T) {
	// Reserve a port, release it, and point the client at it via the port
	// file: the dial fails but the error names the resolved port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	portFile := filepath.Join(t.TempDir(), "server.port")
	if err := os.WriteFile(portFile, []byte(fmt.Sprintf("%d\n", port)), 0o644); err != nil {
		t.Fatalf("write port file: %v", err)
	}

	c := NewClient(Config{
		Host:        "127.0.0.1",
		SessionName: "alpha",
		PortFile:    portFile,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Run(ctx)
	if err == nil {
		t.Fatal("Run succeeded against a closed port")
	}
	if !strings.Contains(err.Error(), strconv.Itoa(port)) {
		t.Errorf("error = %v, want resolved port %d", err, port)
	}
}
