package session

import (
	"fmt"
	"sync"
	"time"
)

// Source identifies which channel submitted a command. It is threaded
// through requests, browser records, and terminal_output messages; string
// comparison happens only at the parse site.
type Source string

const (
	SourceUser  Source = "user"  // browser channel
	SourceAgent Source = "agent" // programmatic tool channel
)

// ParseSource is the single place an untrusted source label becomes a
// Source. Unknown labels default to user: a mislabeled browser message
// must never gain agent semantics.
func ParseSource(s string) Source {
	if s == string(SourceAgent) {
		return SourceAgent
	}
	return SourceUser
}

// CommandResult carries the terminal outcome of one command. ExitCode -1
// means "submitted but not yet completed".
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// BrowserCommand records one command submitted through the browser
// channel. Created at submission, mutated exactly once at completion,
// drained when a gating error is emitted.
type BrowserCommand struct {
	Command   string        `json:"command"`
	CommandID string        `json:"commandId"`
	Timestamp time.Time     `json:"timestamp"`
	Source    Source        `json:"source"`
	Result    CommandResult `json:"result"`
}

// commandBuffer is the FIFO of browser-command records consulted by the
// gating policy.
type commandBuffer struct {
	mu      sync.Mutex
	records []*BrowserCommand
}

func newCommandBuffer() *commandBuffer {
	return &commandBuffer{}
}

// Append records a browser submission and returns the stored record.
func (b *commandBuffer) Append(cmd, commandID string, source Source) *BrowserCommand {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := &BrowserCommand{
		Command:   cmd,
		CommandID: commandID,
		Timestamp: time.Now(),
		Source:    source,
		Result:    CommandResult{ExitCode: -1},
	}
	b.records = append(b.records, rec)
	return rec
}

// SetResult mutates a record's result. Called exactly once per record,
// when its command completes.
func (b *commandBuffer) SetResult(rec *BrowserCommand, res CommandResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec.Result = res
}

// Drain empties the buffer and returns value copies of its prior contents
// in submission order.
func (b *commandBuffer) Drain() []BrowserCommand {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BrowserCommand, len(b.records))
	for i, rec := range b.records {
		out[i] = *rec
	}
	b.records = nil
	return out
}

// Size returns the number of buffered records.
func (b *commandBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// String implements fmt.Stringer for diagnostics.
func (b *commandBuffer) String() string {
	return fmt.Sprintf("commandBuffer(%d)", b.Size())
}
