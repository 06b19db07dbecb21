// Package broadcast fans the normalized output stream out to WebSocket
// subscribers. The hub owns the session's history buffer so that subscriber
// onboarding (snapshot, then live chunks) is atomic: a subscriber attached
// during a publish sees either the chunk in its snapshot or on its channel,
// never both and never neither.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/postalsys/ssh-mcp-server/internal/history"
	"github.com/postalsys/ssh-mcp-server/internal/logging"
)

// Event is one item on a subscriber's outbound queue: either a normalized
// output chunk or a control message (lock state, readiness, errors).
type Event struct {
	// Chunk is set for terminal output events.
	Chunk *history.Chunk
	// Control carries a wsproto message value for non-output events.
	Control any
}

// Subscriber is one attached WebSocket consumer. It receives the history
// snapshot taken at attach time, then every event published after it, in
// order. A subscriber whose queue overflows is marked dead and detached;
// its channel is closed.
type Subscriber struct {
	id          string
	events      chan Event
	snapshot    []byte
	snapshotSeq uint64
	dead        atomic.Bool
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Events returns the subscriber's outbound queue. The channel is closed
// when the subscriber is detached or the hub shuts down.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Snapshot returns the history captured at attach time and the sequence
// number of its last chunk. Every chunk received on Events has a greater
// sequence number.
func (s *Subscriber) Snapshot() ([]byte, uint64) {
	return s.snapshot, s.snapshotSeq
}

// Dead reports whether the subscriber was removed due to queue overflow.
func (s *Subscriber) Dead() bool {
	return s.dead.Load()
}

// Hub distributes normalized output to subscribers with per-subscriber
// backpressure isolation: a slow subscriber is dropped, never waited on.
type Hub struct {
	mu        sync.Mutex
	history   *history.Buffer
	subs      map[string]*Subscriber
	nextSeq   uint64
	queueSize int
	closed    bool
	logger    *slog.Logger
}

// NewHub creates a hub with the given history byte budget and per-subscriber
// queue capacity.
func NewHub(historyBytes, queueSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Hub{
		history:   history.NewBuffer(historyBytes),
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Publish assigns the next sequence number to data, appends it to the
// history, and enqueues it to every live subscriber. Returns the chunk.
func (h *Hub) Publish(data []byte) history.Chunk {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	chunk := history.Chunk{Seq: h.nextSeq, Data: data}

	if !h.closed {
		h.history.Append(chunk)
	}

	ChunksPublishedTotal.Inc()
	BytesPublishedTotal.Add(float64(len(data)))

	h.fanout(Event{Chunk: &chunk})
	return chunk
}

// PublishControl enqueues a control message to every live subscriber.
// Control messages carry no sequence number and are not recorded in
// history.
func (h *Hub) PublishControl(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fanout(Event{Control: msg})
}

// fanout delivers the event to each subscriber without blocking. Callers
// hold h.mu. A full queue kills that subscriber only.
func (h *Hub) fanout(ev Event) {
	for id, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			sub.dead.Store(true)
			delete(h.subs, id)
			close(sub.events)
			SubscribersActive.Dec()
			SubscriberOverflowsTotal.Inc()
			h.logger.Warn("subscriber queue overflow, detaching",
				logging.KeySubscriber, id)
		}
	}
}

// Attach registers a new subscriber. The snapshot and the registration
// happen under one lock, so the boundary between snapshot and live chunks
// has no gap and no duplicate.
func (h *Hub) Attach() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, seq := h.history.Snapshot()
	sub := &Subscriber{
		id:          uuid.New().String(),
		events:      make(chan Event, h.queueSize),
		snapshot:    snap,
		snapshotSeq: seq,
	}

	if h.closed {
		// Late attach after shutdown still gets the (empty) snapshot
		// and an immediately closed channel.
		close(sub.events)
		return sub
	}

	h.subs[sub.id] = sub
	SubscribersActive.Inc()
	return sub
}

// Detach removes a subscriber and closes its channel. Safe to call for a
// subscriber that has already been removed by overflow.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.events)
	SubscribersActive.Dec()
}

// Snapshot returns the current history contents and last sequence number.
// Used for state recovery requests on an existing socket.
func (h *Hub) Snapshot() ([]byte, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Snapshot()
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HistoryBytes returns the number of bytes currently held in history.
func (h *Hub) HistoryBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.Size()
}

// Close stops accepting subscribers, flushes the history, and closes every
// subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.events)
		SubscribersActive.Dec()
	}
	h.history.Reset()
}
