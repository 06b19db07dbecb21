// Package sshconn owns one SSH connection and its interactive PTY-backed
// shell. It is the only producer of raw bytes into the filter and the only
// consumer of shell stdin writes.
package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
	"github.com/postalsys/ssh-mcp-server/internal/recovery"
)

// Auth describes how to reach and authenticate an SSH endpoint. It is
// immutable after session creation.
type Auth struct {
	Host        string
	Port        int
	Username    string
	Password    string
	PrivateKey  string // PEM-encoded key material
	KeyFilePath string
}

// Addr returns the dial address, defaulting the port to 22.
func (a Auth) Addr() string {
	port := a.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(a.Host, fmt.Sprint(port))
}

// methods builds the ssh.AuthMethod list in preference order: explicit
// key material, key file, then password.
func (a Auth) methods() ([]ssh.AuthMethod, error) {
	var out []ssh.AuthMethod

	if a.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(a.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		out = append(out, ssh.PublicKeys(signer))
	}

	if a.KeyFilePath != "" {
		data, err := os.ReadFile(a.KeyFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		out = append(out, ssh.PublicKeys(signer))
	}

	if a.Password != "" {
		out = append(out, ssh.Password(a.Password))
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}
	return out, nil
}

// Config tunes the adapter.
type Config struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	TermType          string
	InitialCols       int
	InitialRows       int
	// Proxy is an optional SOCKS5 URL (socks5://host:port) to dial through.
	Proxy string
}

// DefaultConfig returns adapter defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    15 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		TermType:          "xterm-256color",
		InitialCols:       120,
		InitialRows:       30,
	}
}

// readinessDelay separates the prompt-stabilizing init sequence from live
// operation; the filter additionally discards everything before the first
// canonical prompt.
const readinessDelay = 300 * time.Millisecond

// canonicalPS1 expands on the remote shell to the bracket prompt the
// filter recognizes: [user@host cwd]$ followed by one space.
const canonicalPS1 = `[\u@\h \W]\$ `

// Adapter owns one SSH client, one PTY shell channel, and the reader
// pumping raw bytes out of it.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	output chan []byte
	done   chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
	err       error
	cols      int
	rows      int
}

// IsAuthError reports whether a dial failure was an authentication
// rejection (as opposed to the endpoint being unreachable).
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "no supported methods remain")
}

// Dial opens the SSH connection, requests a PTY with server-side echo
// disabled, starts the interactive shell, and injects the
// prompt-stabilizing initialization sequence.
func Dial(ctx context.Context, auth Auth, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	methods, err := auth.methods()
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            auth.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	client, err := dialClient(ctx, auth.Addr(), clientCfg, cfg.Proxy)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:    cfg,
		logger: logger,
		client: client,
		output: make(chan []byte, 64),
		done:   make(chan struct{}),
		cols:   cfg.InitialCols,
		rows:   cfg.InitialRows,
	}

	if err := a.startShell(); err != nil {
		client.Close()
		return nil, err
	}

	go a.readLoop()
	if cfg.KeepaliveInterval > 0 {
		go a.keepaliveLoop()
	}

	return a, nil
}

// dialClient establishes the TCP (optionally proxied) connection and the
// SSH handshake under the context deadline.
func dialClient(ctx context.Context, addr string, cfg *ssh.ClientConfig, proxyURL string) (*ssh.Client, error) {
	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var conn net.Conn
	var err error
	if proxyURL != "" {
		conn, err = dialViaProxy(dialCtx, addr, proxyURL)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// dialViaProxy dials through a SOCKS5 proxy given as socks5://host:port.
func dialViaProxy(ctx context.Context, addr, proxyURL string) (net.Conn, error) {
	target := strings.TrimPrefix(proxyURL, "socks5://")
	if target == proxyURL {
		return nil, fmt.Errorf("unsupported proxy scheme in %q (want socks5://)", proxyURL)
	}

	dialer, err := proxy.SOCKS5("tcp", target, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// startShell requests the PTY, starts the shell, and writes the init
// sequence with output redirected to a null sink.
func (a *Adapter) startShell() error {
	sess, err := a.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session channel: %w", err)
	}

	// Conservative canonical mode: no server-side echo, fixed term type.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(a.cfg.TermType, a.cfg.InitialRows, a.cfg.InitialCols, modes); err != nil {
		sess.Close()
		return fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	a.sess = sess
	a.stdin = stdin
	a.stdout = stdout

	for _, line := range initSequence() {
		if _, err := stdin.Write([]byte(line + "\n")); err != nil {
			sess.Close()
			return fmt.Errorf("failed to write init sequence: %w", err)
		}
	}

	time.Sleep(readinessDelay)
	return nil
}

// initSequence returns the prompt-stabilizing lines. Each redirects its
// output to a null sink so no textual echo reaches downstream consumers.
func initSequence() []string {
	return []string{
		"stty -echo > /dev/null 2>&1",
		"export PS1='" + canonicalPS1 + "' > /dev/null 2>&1",
		"unset PROMPT_COMMAND > /dev/null 2>&1",
	}
}

// readLoop is the sole producer of raw output chunks.
func (a *Adapter) readLoop() {
	defer recovery.RecoverWithLog(a.logger, "sshReadLoop")
	defer close(a.output)

	buf := make([]byte, 32*1024)
	for {
		n, err := a.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case a.output <- chunk:
			case <-a.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.logger.Debug("shell read ended", logging.KeyError, err)
			}
			a.fail(fmt.Errorf("shell read: %w", err))
			return
		}
	}
}

// keepaliveLoop pings the server; a failed keepalive means the transport
// is gone.
func (a *Adapter) keepaliveLoop() {
	defer recovery.RecoverWithLog(a.logger, "sshKeepalive")

	ticker := time.NewTicker(a.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if _, _, err := a.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				a.fail(fmt.Errorf("keepalive: %w", err))
				return
			}
		}
	}
}

// Output yields raw byte chunks as they arrive. The channel is closed when
// the transport is lost or the adapter is closed.
func (a *Adapter) Output() <-chan []byte {
	return a.output
}

// Write writes raw bytes to the shell's stdin.
func (a *Adapter) Write(p []byte) error {
	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("shell closed")
	}
	if _, err := stdin.Write(p); err != nil {
		a.fail(fmt.Errorf("shell write: %w", err))
		return err
	}
	return nil
}

// interruptByte is the ETX control character written when a native signal
// is not honored.
const interruptByte = 0x03

// signalByName maps the supported signal names to SSH channel signals.
var signalByName = map[string]ssh.Signal{
	"SIGINT":  ssh.SIGINT,
	"SIGTERM": ssh.SIGTERM,
	"SIGKILL": ssh.SIGKILL,
	"SIGHUP":  ssh.SIGHUP,
	"SIGQUIT": ssh.SIGQUIT,
}

// SendSignal delivers a signal to the foreground process: native channel
// signal first, control-character fallback when the transport does not
// honor it.
func (a *Adapter) SendSignal(name string) error {
	sig, ok := signalByName[name]
	if !ok {
		return fmt.Errorf("unsupported signal %q", name)
	}

	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("shell closed")
	}

	if err := sess.Signal(sig); err == nil {
		return nil
	}

	if sig == ssh.SIGINT {
		return a.Write([]byte{interruptByte})
	}
	return fmt.Errorf("signal %s not supported by transport", name)
}

// Interrupt writes the interrupt control character directly, the way a
// human pressing Ctrl-C would.
func (a *Adapter) Interrupt() error {
	return a.Write([]byte{interruptByte})
}

// Resize propagates a window-size change to the PTY.
func (a *Adapter) Resize(cols, rows int) error {
	a.mu.Lock()
	sess := a.sess
	if cols > 0 && rows > 0 {
		a.cols, a.rows = cols, rows
	}
	a.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("shell closed")
	}
	return sess.WindowChange(rows, cols)
}

// WindowSize returns the current PTY dimensions.
func (a *Adapter) WindowSize() (cols, rows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols, a.rows
}

// Done is closed when the adapter has failed or been closed.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Err returns the transport error that ended the adapter, if any.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// fail records the first transport error and tears the adapter down.
func (a *Adapter) fail(err error) {
	a.mu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.mu.Unlock()
	a.Close()
}

// Close terminates the shell and the connection. Safe to call multiple
// times.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		sess := a.sess
		client := a.client
		a.sess = nil
		a.stdin = nil
		a.mu.Unlock()

		if sess != nil {
			sess.Close()
		}
		if client != nil {
			client.Close()
		}
	})
	return nil
}
