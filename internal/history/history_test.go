package history

import (
	"bytes"
	"fmt"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	b := NewBuffer(1024)

	b.Append(Chunk{Seq: 1, Data: []byte("hello ")})
	b.Append(Chunk{Seq: 2, Data: []byte("world")})

	data, last := b.Snapshot()
	if !bytes.Equal(data, []byte("hello world")) {
		t.Errorf("Snapshot() data = %q, want %q", data, "hello world")
	}
	if last != 2 {
		t.Errorf("Snapshot() lastSeq = %d, want 2", last)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	b := NewBuffer(1024)

	data, last := b.Snapshot()
	if len(data) != 0 {
		t.Errorf("Snapshot() data = %q, want empty", data)
	}
	if last != 0 {
		t.Errorf("Snapshot() lastSeq = %d, want 0", last)
	}
}

func TestHeadTruncation(t *testing.T) {
	b := NewBuffer(10)

	b.Append(Chunk{Seq: 1, Data: []byte("aaaa")})
	b.Append(Chunk{Seq: 2, Data: []byte("bbbb")})
	b.Append(Chunk{Seq: 3, Data: []byte("cccc")})

	data, last := b.Snapshot()
	// Oldest chunk evicted; remaining content fits the budget.
	if !bytes.Equal(data, []byte("bbbbcccc")) {
		t.Errorf("Snapshot() data = %q, want %q", data, "bbbbcccc")
	}
	if last != 3 {
		t.Errorf("lastSeq = %d, want 3", last)
	}
	if b.Size() != 8 {
		t.Errorf("Size() = %d, want 8", b.Size())
	}
}

func TestOversizedChunkKept(t *testing.T) {
	b := NewBuffer(4)

	b.Append(Chunk{Seq: 1, Data: []byte("morethanfour")})

	data, _ := b.Snapshot()
	if !bytes.Equal(data, []byte("morethanfour")) {
		t.Errorf("oversized chunk dropped: %q", data)
	}
}

func TestTruncationKeepsSuffix(t *testing.T) {
	b := NewBuffer(64)

	var want []byte
	for i := 1; i <= 100; i++ {
		data := []byte(fmt.Sprintf("line-%03d\n", i))
		b.Append(Chunk{Seq: uint64(i), Data: data})
		want = append(want, data...)
	}

	data, last := b.Snapshot()
	if last != 100 {
		t.Errorf("lastSeq = %d, want 100", last)
	}
	// The snapshot must be exactly a suffix of the full stream.
	if !bytes.HasSuffix(want, data) {
		t.Errorf("snapshot %q is not a suffix of the stream", data)
	}
	if b.Size() > 64 {
		t.Errorf("Size() = %d exceeds budget", b.Size())
	}
}

func TestReset(t *testing.T) {
	b := NewBuffer(64)
	b.Append(Chunk{Seq: 1, Data: []byte("data")})
	b.Reset()

	if b.Size() != 0 {
		t.Errorf("Size() after Reset = %d", b.Size())
	}
	data, _ := b.Snapshot()
	if len(data) != 0 {
		t.Errorf("Snapshot() after Reset = %q", data)
	}
}
