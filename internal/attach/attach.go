// Package attach connects a local terminal to a session's WebSocket
// endpoint: raw mode on stdin, normalized output on stdout, window size
// propagated on SIGWINCH.
package attach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
	"nhooyr.io/websocket"

	"github.com/postalsys/ssh-mcp-server/internal/web"
	"github.com/postalsys/ssh-mcp-server/internal/wsproto"
)

// Config locates the server and session to attach to.
type Config struct {
	Host        string
	Port        int
	SessionName string
	// PortFile is consulted when Port is zero.
	PortFile string
}

// Client is one attached terminal.
type Client struct {
	cfg  Config
	conn *websocket.Conn

	mu      sync.Mutex
	runErr  error
	writeMu sync.Mutex
}

// NewClient creates an attach client.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Client{cfg: cfg}
}

// Run attaches until the socket closes or the context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	port := c.cfg.Port
	if port == 0 {
		p, err := web.ReadPortFile(c.cfg.PortFile)
		if err != nil {
			return fmt.Errorf("no server port given and no port file: %w", err)
		}
		port = p
	}

	url := fmt.Sprintf("ws://%s:%d/ws/session/%s", c.cfg.Host, port, c.cfg.SessionName)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	c.conn = conn
	defer conn.Close(websocket.StatusNormalClosure, "")

	fmt.Fprintf(os.Stderr, "Attached to session %s. Press Ctrl-D to detach.\r\n", c.cfg.SessionName)

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, rawErr := term.MakeRaw(stdinFd)
		if rawErr != nil {
			return fmt.Errorf("failed to set raw mode: %w", rawErr)
		}
		defer func() {
			term.Restore(stdinFd, oldState)
			fmt.Fprintf(os.Stderr, "Detached from session %s.\n", c.cfg.SessionName)
		}()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.sendResize(sessionCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go c.handleResize(sessionCtx, sigCh)

	// Stdin reads are blocking syscalls that outlive cancellation; the
	// goroutine ends when the process does.
	go func() {
		defer cancel()
		c.pumpStdin(sessionCtx)
	}()

	c.pumpOutput(sessionCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

func (c *Client) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// pumpStdin forwards raw keystrokes. In raw mode Ctrl-C arrives as a byte
// and travels the same path; Ctrl-D (EOF on a reader line start) detaches.
func (c *Client) pumpStdin(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			msg, detach := rawInputMessage(buf[:n])
			if detach {
				return
			}
			if serr := c.send(ctx, msg); serr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.setError(err)
			}
			return
		}
	}
}

// rawInputMessage frames one stdin read for the raw input channel. A
// leading Ctrl-D requests detach instead of being forwarded.
func rawInputMessage(data []byte) (any, bool) {
	if data[0] == 0x04 {
		return nil, true
	}
	return struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{wsproto.TypeTerminalInputRaw, string(data)}, false
}

// pumpOutput writes terminal_output payloads to stdout and surfaces
// command errors on stderr.
func (c *Client) pumpOutput(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				ctx.Err() == nil {
				c.setError(err)
			}
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case wsproto.TypeTerminalOutput:
			var msg wsproto.TerminalOutput
			if err := json.Unmarshal(data, &msg); err == nil {
				os.Stdout.WriteString(msg.Data)
			}
		case wsproto.TypeCommandError:
			var msg wsproto.CommandError
			if err := json.Unmarshal(data, &msg); err == nil {
				fmt.Fprintf(os.Stderr, "\r\ncommand error: %s\r\n", msg.ErrorMessage)
			}
		}
	}
}

func (c *Client) handleResize(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			c.sendResize(ctx)
		}
	}
}

func (c *Client) sendResize(ctx context.Context) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return
	}
	msg := struct {
		Type string `json:"type"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}{wsproto.TypeTerminalResize, cols, rows}
	c.send(ctx, msg)
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	if c.runErr == nil {
		c.runErr = err
	}
	c.mu.Unlock()
}
