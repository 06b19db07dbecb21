package filter

import (
	"strings"
	"testing"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

const prompt = "[alice@web1 ~]$ "

type capture struct {
	f           *Filter
	out         strings.Builder
	completions []Completion
}

func newCapture() *capture {
	c := &capture{}
	c.f = New(
		func(b []byte) { c.out.Write(b) },
		func(done Completion) { c.completions = append(c.completions, done) },
		logging.NopLogger(),
	)
	return c
}

// goLive feeds initialization noise followed by the first prompt.
func (c *capture) goLive(t *testing.T) {
	t.Helper()
	c.f.Feed([]byte("Last login: Tue Aug 26 10:00:00\r\nstty rows 30 cols 120\r\n" + prompt))
	if !c.f.Live() {
		t.Fatal("filter not live after first prompt")
	}
	select {
	case <-c.f.Ready():
	default:
		t.Fatal("Ready() not closed after first prompt")
	}
}

func TestInitElision(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	// Nothing before the first prompt escapes downstream.
	if got := c.out.String(); got != prompt {
		t.Errorf("output = %q, want only the prompt %q", got, prompt)
	}
}

func TestSingleCommand(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("whoami", Instrument("whoami"), true)
	c.f.Feed([]byte("alice\r\n__rc:0\r\n" + prompt))

	got := c.out.String()
	want := prompt + "whoami\r\nalice\r\n" + prompt
	if got != want {
		t.Errorf("stream = %q, want %q", got, want)
	}

	if len(c.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(c.completions))
	}
	done := c.completions[0]
	if done.Stdout != "alice\n" {
		t.Errorf("Stdout = %q, want %q", done.Stdout, "alice\n")
	}
	if done.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", done.ExitCode)
	}
}

func TestCommandAppearsExactlyOnce(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("echo hello", Instrument("echo hello"), true)
	c.f.Feed([]byte("hello\r\n__rc:0\r\n" + prompt))

	got := c.out.String()
	if n := strings.Count(got, "echo hello"); n != 1 {
		t.Errorf("command appears %d times, want 1; stream %q", n, got)
	}
	if n := strings.Count(got, "hello\r\n"); n != 2 {
		// Once in the echo line, once as output.
		t.Errorf("hello lines = %d, want 2; stream %q", n, got)
	}
}

func TestEchoSuppression(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	wire := Instrument("pwd")
	c.f.BeginCommand("pwd", wire, true)
	// A shell that re-enabled echo repeats the wire line before output.
	c.f.Feed([]byte(wire + "\r\n/home/alice\r\n__rc:0\r\n" + prompt))

	got := c.out.String()
	if strings.Contains(got, rcMarker) {
		t.Errorf("marker leaked into stream: %q", got)
	}
	if n := strings.Count(got, "pwd"); n != 1 {
		t.Errorf("command appears %d times, want 1; stream %q", n, got)
	}
	if c.completions[0].Stdout != "/home/alice\n" {
		t.Errorf("Stdout = %q", c.completions[0].Stdout)
	}
}

func TestNonZeroExitCode(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("false", Instrument("false"), true)
	c.f.Feed([]byte("__rc:1\r\n" + prompt))

	if c.completions[0].ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", c.completions[0].ExitCode)
	}
	if c.completions[0].Stdout != "" {
		t.Errorf("Stdout = %q, want empty", c.completions[0].Stdout)
	}
}

func TestMarkerSharingOutputLine(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("printf foo", Instrument("printf foo"), true)
	c.f.Feed([]byte("foo__rc:0\r\n" + prompt))

	got := c.out.String()
	if strings.Contains(got, rcMarker) {
		t.Errorf("marker leaked: %q", got)
	}
	if !strings.Contains(got, "foo\r\n") {
		t.Errorf("output prefix lost: %q", got)
	}
	if c.completions[0].ExitCode != 0 {
		t.Errorf("ExitCode = %d", c.completions[0].ExitCode)
	}
}

func TestSplitFeeds(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("whoami", Instrument("whoami"), true)

	// Output, marker, and prompt arrive fragmented at awkward boundaries.
	for _, part := range []string{"ali", "ce\r\n__rc", ":0\r\n[alice@", "web1 ~]$ "} {
		c.f.Feed([]byte(part))
	}

	if len(c.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(c.completions))
	}
	if c.completions[0].Stdout != "alice\n" {
		t.Errorf("Stdout = %q", c.completions[0].Stdout)
	}
	want := prompt + "whoami\r\nalice\r\n" + prompt
	if got := c.out.String(); got != want {
		t.Errorf("stream = %q, want %q", got, want)
	}
}

func TestTwoSequentialCommands(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("true", Instrument("true"), true)
	c.f.Feed([]byte("__rc:0\r\n" + prompt))
	c.f.BeginCommand("whoami", Instrument("whoami"), true)
	c.f.Feed([]byte("alice\r\n__rc:0\r\n" + prompt))

	got := c.out.String()
	// Completion prompt of the first strictly precedes the echo line of
	// the second.
	first := strings.Index(got, "true\r\n")
	second := strings.Index(got, "whoami\r\n")
	between := got[first+len("true\r\n") : second]
	if !strings.Contains(between, prompt) {
		t.Errorf("no completion prompt between commands: %q", got)
	}
	if len(c.completions) != 2 {
		t.Errorf("completions = %d, want 2", len(c.completions))
	}
}

func TestRawPassthrough(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	// No command boundary known: bytes pass through unfiltered.
	c.f.Feed([]byte("ls -la\r\ndrwxr-xr-x  alice\r\n"))

	got := c.out.String()
	if !strings.Contains(got, "ls -la\r\ndrwxr-xr-x  alice\r\n") {
		t.Errorf("raw bytes not passed through: %q", got)
	}
	if len(c.completions) != 0 {
		t.Errorf("unexpected completion in raw mode")
	}
}

func TestCRLFPreserved(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("whoami", Instrument("whoami"), true)
	c.f.Feed([]byte("alice\r\n__rc:0\r\n" + prompt))

	if !strings.Contains(c.out.String(), "\r\n") {
		t.Error("CR-LF collapsed in normalized stream")
	}
}

func TestANSIPrefixedPrompt(t *testing.T) {
	c := newCapture()
	c.f.Feed([]byte("init noise\r\n\x1b[?2004h" + prompt))

	if !c.f.Live() {
		t.Fatal("filter not live with ANSI-decorated prompt")
	}

	c.f.BeginCommand("true", Instrument("true"), true)
	c.f.Feed([]byte("__rc:0\r\n\x1b[?2004h" + prompt))

	if len(c.completions) != 1 {
		t.Errorf("completions = %d, want 1", len(c.completions))
	}
}

func TestInterruptedCommand(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("sleep 30", Instrument("sleep 30"), true)
	// SIGINT: ^C is printed, the marker reports 130, prompt returns.
	c.f.Feed([]byte("^C\r\n__rc:130\r\n" + prompt))

	if len(c.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(c.completions))
	}
	if c.completions[0].ExitCode != 130 {
		t.Errorf("ExitCode = %d, want 130", c.completions[0].ExitCode)
	}
	if !strings.Contains(c.out.String(), "^C") {
		t.Errorf("^C missing from stream: %q", c.out.String())
	}
}

func TestAbortDropsRegistration(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("doomed", Instrument("doomed"), true)
	c.f.Abort()

	// Bytes after abort flow as raw passthrough; no completion fires.
	c.f.Feed([]byte("leftover\r\n"))
	if len(c.completions) != 0 {
		t.Errorf("completion after Abort")
	}
}

func TestLongOutputFlushedEagerly(t *testing.T) {
	c := newCapture()
	c.goLive(t)

	c.f.BeginCommand("yes x", Instrument("yes x"), true)

	// A partial line that cannot be a prompt is flushed without waiting
	// for its newline.
	c.f.Feed([]byte("downloading... 42%"))
	if !strings.Contains(c.out.String(), "downloading... 42%") {
		t.Errorf("interactive partial withheld: %q", c.out.String())
	}
}

func TestInstrument(t *testing.T) {
	got := Instrument("echo hi")
	if !strings.HasPrefix(got, "echo hi; ") {
		t.Errorf("Instrument() = %q", got)
	}
	if !strings.Contains(got, rcMarker) {
		t.Errorf("Instrument() missing marker: %q", got)
	}
}

func TestSkipANSI(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"no escape", "plain", 0},
		{"csi", "\x1b[0m rest", 4},
		{"two csi", "\x1b[0m\x1b[1mx", 8},
		{"osc with bel", "\x1b]0;title\x07x", 10},
		{"incomplete csi", "\x1b[", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := skipANSI([]byte(tt.input)); got != tt.want {
				t.Errorf("skipANSI(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
