package broadcast

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

func newTestHub(queue int) *Hub {
	return NewHub(64*1024, queue, logging.NopLogger())
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	h := newTestHub(16)

	c1 := h.Publish([]byte("one"))
	c2 := h.Publish([]byte("two"))

	if c2.Seq != c1.Seq+1 {
		t.Errorf("sequence not contiguous: %d then %d", c1.Seq, c2.Seq)
	}
}

func TestAttachReceivesSnapshotThenLive(t *testing.T) {
	h := newTestHub(16)

	h.Publish([]byte("before-1 "))
	h.Publish([]byte("before-2 "))

	sub := h.Attach()
	defer h.Detach(sub)

	snap, seq := sub.Snapshot()
	if !bytes.Equal(snap, []byte("before-1 before-2 ")) {
		t.Errorf("snapshot = %q", snap)
	}
	if seq != 2 {
		t.Errorf("snapshot seq = %d, want 2", seq)
	}

	live := h.Publish([]byte("after"))

	select {
	case ev := <-sub.Events():
		if ev.Chunk == nil {
			t.Fatal("expected chunk event")
		}
		if ev.Chunk.Seq != seq+1 {
			t.Errorf("live seq = %d, want %d (no gap, no duplicate)", ev.Chunk.Seq, seq+1)
		}
		if !bytes.Equal(ev.Chunk.Data, live.Data) {
			t.Errorf("live data = %q", ev.Chunk.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no live chunk delivered")
	}
}

func TestAllSubscribersSeeSameOrder(t *testing.T) {
	h := newTestHub(32)

	s1 := h.Attach()
	s2 := h.Attach()
	defer h.Detach(s1)
	defer h.Detach(s2)

	for i := 0; i < 10; i++ {
		h.Publish([]byte(fmt.Sprintf("chunk-%d", i)))
	}

	for _, sub := range []*Subscriber{s1, s2} {
		var last uint64
		for i := 0; i < 10; i++ {
			ev := <-sub.Events()
			if ev.Chunk.Seq <= last {
				t.Errorf("subscriber %s: non-increasing seq %d after %d",
					sub.ID(), ev.Chunk.Seq, last)
			}
			last = ev.Chunk.Seq
		}
	}
}

func TestOverflowDisconnectsOnlySlowSubscriber(t *testing.T) {
	h := newTestHub(2)

	slow := h.Attach() // never drained
	fast := h.Attach()

	// Fill the slow subscriber's queue and overflow it; drain fast as we go.
	for i := 0; i < 5; i++ {
		h.Publish([]byte("x"))
		select {
		case <-fast.Events():
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}

	if !slow.Dead() {
		t.Error("slow subscriber not marked dead")
	}
	if fast.Dead() {
		t.Error("fast subscriber wrongly dead")
	}
	if got := h.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}

	// The dead subscriber's channel is closed.
	for range slow.Events() {
	}
}

func TestPublishControl(t *testing.T) {
	h := newTestHub(8)

	sub := h.Attach()
	defer h.Detach(sub)

	type lockMsg struct{ Locked bool }
	h.PublishControl(lockMsg{Locked: true})

	ev := <-sub.Events()
	if ev.Control == nil {
		t.Fatal("expected control event")
	}
	if msg, ok := ev.Control.(lockMsg); !ok || !msg.Locked {
		t.Errorf("control = %#v", ev.Control)
	}
}

func TestDetachIdempotent(t *testing.T) {
	h := newTestHub(8)
	sub := h.Attach()

	h.Detach(sub)
	h.Detach(sub) // second detach is a no-op

	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d", h.SubscriberCount())
	}
}

func TestCloseDropsEverything(t *testing.T) {
	h := newTestHub(8)
	sub := h.Attach()
	h.Publish([]byte("data"))

	h.Close()

	// Channel closed; drain pending then observe close.
	for range sub.Events() {
	}
	if h.HistoryBytes() != 0 {
		t.Errorf("HistoryBytes() = %d after Close", h.HistoryBytes())
	}

	// Attach after close yields a closed channel, not a panic.
	late := h.Attach()
	if _, ok := <-late.Events(); ok {
		t.Error("late subscriber received event after close")
	}
}
