// Package filter transforms the raw PTY byte stream into the normalized
// output stream. Its contract: every command submitted through the system
// appears in the normalized stream exactly once, on its own line after a
// canonical prompt; the command's output follows; a trailing canonical
// prompt marks completion.
//
// The filter is the only component that understands prompts, shell echo,
// and the exit-code marker. Everything downstream (history, broadcast,
// subscribers) consumes normalized chunks only.
//
// The filter is not safe for concurrent use. Feed must be called from the
// single session reader goroutine; BeginCommand and Feed are serialized by
// the session lock.
package filter

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

// promptRe matches the canonical prompt [user@host cwd]$ at the start of a
// line. The adapter configures PS1 to this exact shape, so a match marks a
// command boundary.
var promptRe = regexp.MustCompile(`^\[[^@\]]+@[^ \]]+ [^\]]+\]\$ `)

// rcMarkerRe matches the exit-code marker appended to every instrumented
// command, at the end of a line.
var rcMarkerRe = regexp.MustCompile(`__rc:(\d+)\r?$`)

// rcMarker is the wire prefix of the exit-code marker line.
const rcMarker = "__rc:"

// maxHoldback bounds how many bytes of an incomplete line are withheld
// while waiting to decide whether they are a prompt.
const maxHoldback = 1024

// maxInitBuffer bounds the bytes retained while waiting for the first
// prompt during shell initialization.
const maxInitBuffer = 8 * 1024

// Instrument appends the exit-code marker to a command so the filter can
// recover $? out-of-band. The marker line is elided from the normalized
// stream.
func Instrument(command string) string {
	return command + `; printf '` + rcMarker + `%d\n' "$?"`
}

// Completion describes one finished command: the output captured between
// submission and the completion prompt, and the exit code parsed from the
// marker line. ExitCode is -1 when no marker was observed.
type Completion struct {
	Stdout   string
	ExitCode int
}

// pending tracks the command currently in flight through the shell.
type pending struct {
	display  string // command as shown in the stream
	wire     string // command as written to the shell (instrumented)
	echoSeen bool   // remote echo already suppressed
	exitCode int
	captured bytes.Buffer
}

// Filter normalizes the raw shell byte stream.
type Filter struct {
	emit     func([]byte)
	complete func(Completion)
	logger   *slog.Logger

	buf       []byte
	live      bool
	cur       *pending
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a filter. emit receives normalized chunks; complete receives
// exactly one event per command registered with BeginCommand.
func New(emit func([]byte), complete func(Completion), logger *slog.Logger) *Filter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Filter{
		emit:     emit,
		complete: complete,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Ready returns a channel closed when the first canonical prompt has been
// observed, i.e. the shell finished initializing and live filtering began.
func (f *Filter) Ready() <-chan struct{} {
	return f.ready
}

// Live reports whether initialization elision has finished.
func (f *Filter) Live() bool {
	return f.live
}

// BeginCommand registers a command before its bytes are written to the
// shell. display is the command as it should appear in the stream; wire is
// the instrumented form actually written. When injectEcho is set the filter
// emits the synthetic echo line now, so the command appears exactly once
// directly after the prompt already at the end of the stream.
func (f *Filter) BeginCommand(display, wire string, injectEcho bool) {
	if f.cur != nil {
		// The executor serializes submissions; getting here means a
		// completion was lost. Resolve defensively rather than wedge.
		f.logger.Warn("command registered while another is in flight",
			"command", display)
		f.finish()
	}

	f.cur = &pending{
		display:  display,
		wire:     wire,
		exitCode: -1,
	}

	if injectEcho && f.live {
		f.emit([]byte(display + "\r\n"))
	}
}

// Abort drops the in-flight command registration without emitting a
// completion. Used when the write to the shell itself failed.
func (f *Filter) Abort() {
	f.cur = nil
}

// Feed processes raw bytes from the PTY in strict arrival order.
func (f *Filter) Feed(data []byte) {
	f.buf = append(f.buf, data...)

	if !f.live {
		f.scanInit()
		if !f.live {
			return
		}
	}

	f.process()
}

// scanInit discards initialization noise. Live filtering begins at the
// first canonical prompt; everything before it never reaches downstream.
func (f *Filter) scanInit() {
	// The prompt sits at the start of the last line.
	start := bytes.LastIndexByte(f.buf, '\n') + 1
	line := f.buf[start:]
	if n := skipANSI(line); n > 0 {
		line = line[n:]
	}

	if loc := promptRe.FindIndex(line); loc != nil {
		f.live = true
		f.buf = append([]byte(nil), line[loc[0]:]...)
		f.emitBytes(f.buf[:loc[1]-loc[0]])
		f.buf = f.buf[loc[1]-loc[0]:]
		f.readyOnce.Do(func() { close(f.ready) })
		return
	}

	if len(f.buf) > maxInitBuffer {
		f.buf = append([]byte(nil), f.buf[len(f.buf)-maxInitBuffer:]...)
	}
}

// process consumes buffered bytes, line by line while a command is in
// flight, as straight passthrough otherwise.
func (f *Filter) process() {
	for len(f.buf) > 0 {
		if f.cur == nil {
			// Raw mode: no command boundary is known, bytes pass
			// through unfiltered.
			f.emitBytes(f.buf)
			f.buf = nil
			return
		}

		nl := bytes.IndexByte(f.buf, '\n')
		if nl < 0 {
			if !f.handlePartial() {
				return
			}
			continue
		}

		line := f.buf[:nl+1]
		f.buf = f.buf[nl+1:]
		f.handleLine(line)
	}
}

// handleLine processes one complete line (newline included) while a
// command is in flight.
func (f *Filter) handleLine(line []byte) {
	content := trimLineEnding(line)

	// Suppress the remote echo of the submitted command, if the shell
	// echoed it despite stty -echo.
	if !f.cur.echoSeen {
		trimmed := strings.TrimSpace(string(content))
		if trimmed == f.cur.wire || trimmed == f.cur.display {
			f.cur.echoSeen = true
			return
		}
	}

	// Exit-code marker: capture the code, elide the marker. Output that
	// shares the marker's line keeps its prefix.
	if m := rcMarkerRe.FindSubmatchIndex(content); m != nil {
		if code, err := strconv.Atoi(string(content[m[2]:m[3]])); err == nil {
			f.cur.exitCode = code
		}
		prefix := content[:m[0]]
		if len(prefix) > 0 {
			out := append(append([]byte(nil), prefix...), '\r', '\n')
			f.cur.captured.Write(out)
			f.emitBytes(out)
		}
		return
	}

	f.cur.captured.Write(line)
	f.emitBytes(line)
}

// handlePartial examines the trailing incomplete line. It returns true
// when progress was made and processing should continue, false when the
// filter must wait for more bytes.
func (f *Filter) handlePartial() bool {
	partial := f.buf
	probe := partial
	if n := skipANSI(probe); n > 0 {
		probe = probe[n:]
	}

	if loc := promptRe.FindIndex(probe); loc != nil {
		// Completion: emit the prompt (with any ANSI prefix) and
		// resolve the in-flight command.
		promptEnd := len(partial) - len(probe) + loc[1]
		f.emitBytes(partial[:promptEnd])
		f.buf = f.buf[promptEnd:]
		f.finish()
		return true
	}

	// A line that cannot become a prompt or marker is flushed eagerly so
	// interactive output is not withheld.
	if !couldBeBoundary(probe) || len(partial) > maxHoldback {
		f.cur.captured.Write(partial)
		f.emitBytes(partial)
		f.buf = nil
	}
	return false
}

// finish resolves the in-flight command with its captured output.
func (f *Filter) finish() {
	cur := f.cur
	f.cur = nil

	stdout := strings.ReplaceAll(cur.captured.String(), "\r\n", "\n")
	f.complete(Completion{
		Stdout:   stdout,
		ExitCode: cur.exitCode,
	})
}

func (f *Filter) emitBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	f.emit(append([]byte(nil), b...))
}

// couldBeBoundary reports whether the partial line could still grow into a
// canonical prompt or an exit-code marker, and is therefore worth holding
// back.
func couldBeBoundary(partial []byte) bool {
	if len(partial) == 0 {
		return true
	}
	if partial[0] == '[' || partial[0] == 0x1b {
		return true
	}
	// A marker fragment anywhere near the tail also defers flushing.
	tail := partial
	if len(tail) > len(rcMarker) {
		tail = tail[len(tail)-len(rcMarker):]
	}
	for i := 0; i < len(tail); i++ {
		if bytes.HasPrefix([]byte(rcMarker), tail[i:]) {
			return true
		}
	}
	return bytes.Contains(partial, []byte(rcMarker))
}

// skipANSI returns the length of leading ANSI escape sequences (CSI and
// OSC forms) so prompt matching tolerates decoration such as bracketed
// paste guards.
func skipANSI(b []byte) int {
	i := 0
	for i+1 < len(b) && b[i] == 0x1b {
		j := i + 1
		switch b[j] {
		case '[':
			j++
			for j < len(b) && !isCSIFinal(b[j]) {
				j++
			}
			if j >= len(b) {
				return i
			}
			i = j + 1
		case ']':
			j++
			for j < len(b) && b[j] != 0x07 {
				if b[j] == 0x1b && j+1 < len(b) && b[j+1] == '\\' {
					j++
					break
				}
				j++
			}
			if j >= len(b) {
				return i
			}
			i = j + 1
		default:
			i = j + 1
		}
	}
	return i
}

func isCSIFinal(c byte) bool {
	return c >= 0x40 && c <= 0x7e
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// String implements fmt.Stringer for diagnostics.
func (f *Filter) String() string {
	state := "raw"
	if !f.live {
		state = "initializing"
	} else if f.cur != nil {
		state = fmt.Sprintf("command %q in flight", f.cur.display)
	}
	return "filter: " + state
}
