// Package history implements the bounded, replayable output history for a
// session. The buffer stores normalized output chunks in arrival order and
// can produce an atomic snapshot for late-joining subscribers.
package history

// Chunk is one normalized piece of terminal output with its monotonic
// sequence number within the session.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Buffer is an append-only ring of normalized chunks, truncated from the
// oldest once the configured byte budget is exceeded.
//
// Buffer is not safe for concurrent use; the broadcast hub serializes
// access under its own lock so that Snapshot is atomic with respect to
// Append.
type Buffer struct {
	chunks   []Chunk
	size     int
	maxBytes int
	lastSeq  uint64
}

// NewBuffer creates a history buffer bounded to maxBytes of chunk data.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{
		maxBytes: maxBytes,
	}
}

// Append adds a chunk, evicting from the head until the buffer fits the
// byte budget again. A single chunk larger than the budget is kept alone
// so the most recent output is never silently dropped.
func (b *Buffer) Append(c Chunk) {
	b.chunks = append(b.chunks, c)
	b.size += len(c.Data)
	b.lastSeq = c.Seq

	for b.size > b.maxBytes && len(b.chunks) > 1 {
		b.size -= len(b.chunks[0].Data)
		b.chunks[0].Data = nil
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns the buffered output as one contiguous block together
// with the sequence number of the last chunk it contains. A subscriber that
// applies the snapshot and then consumes every chunk with a greater
// sequence sees the stream with no gap and no duplicate.
func (b *Buffer) Snapshot() ([]byte, uint64) {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c.Data...)
	}
	return out, b.lastSeq
}

// Size returns the number of buffered bytes.
func (b *Buffer) Size() int {
	return b.size
}

// LastSeq returns the sequence number of the most recent chunk, or 0 if
// nothing has been appended.
func (b *Buffer) LastSeq() uint64 {
	return b.lastSeq
}

// Reset drops all buffered chunks. Used at session teardown.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.size = 0
}
