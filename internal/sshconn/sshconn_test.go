package sshconn

import (
	"strings"
	"testing"
)

func TestAuthAddr(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
		want string
	}{
		{"default port", Auth{Host: "web1"}, "web1:22"},
		{"explicit port", Auth{Host: "web1", Port: 2222}, "web1:2222"},
		{"ipv6", Auth{Host: "::1", Port: 22}, "[::1]:22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auth.Addr(); got != tt.want {
				t.Errorf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthMethods_Password(t *testing.T) {
	auth := Auth{Host: "h", Username: "u", Password: "secret"}

	methods, err := auth.methods()
	if err != nil {
		t.Fatalf("methods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("methods() count = %d, want 1", len(methods))
	}
}

func TestAuthMethods_None(t *testing.T) {
	auth := Auth{Host: "h", Username: "u"}

	if _, err := auth.methods(); err == nil {
		t.Error("expected error with no auth material")
	}
}

func TestAuthMethods_BadKey(t *testing.T) {
	auth := Auth{Host: "h", Username: "u", PrivateKey: "not a pem key"}

	if _, err := auth.methods(); err == nil {
		t.Error("expected error for malformed key material")
	}
}

func TestAuthMethods_MissingKeyFile(t *testing.T) {
	auth := Auth{Host: "h", Username: "u", KeyFilePath: "/nonexistent/id_ed25519"}

	if _, err := auth.methods(); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestInitSequence(t *testing.T) {
	lines := initSequence()

	if len(lines) != 3 {
		t.Fatalf("initSequence() length = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "stty -echo") {
		t.Errorf("first line = %q, want stty -echo", lines[0])
	}
	if !strings.Contains(lines[1], "PS1=") {
		t.Errorf("second line = %q, want PS1 export", lines[1])
	}
	if !strings.Contains(lines[2], "PROMPT_COMMAND") {
		t.Errorf("third line = %q, want PROMPT_COMMAND unset", lines[2])
	}
	// Every line redirects to a null sink.
	for i, line := range lines {
		if !strings.Contains(line, "/dev/null") {
			t.Errorf("line %d lacks null-sink redirect: %q", i, line)
		}
	}
}

func TestDialViaProxy_BadScheme(t *testing.T) {
	if _, err := dialViaProxy(t.Context(), "host:22", "http://proxy:8080"); err == nil {
		t.Error("expected error for non-socks5 proxy scheme")
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", errString("ssh: unable to authenticate, attempted methods [password]"), true},
		{"exhausted", errString("ssh: handshake failed: no supported methods remain"), true},
		{"network", errString("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError() = %v, want %v", got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
