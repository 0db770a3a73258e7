// Package events fans pipeline events out to live subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the pipeline and the scheduler.
const (
	ContentGenerated  = "content.generated"
	ContentOptimized  = "content.optimized"
	ContentPublished  = "content.published"
	PublicationFailed = "publication.failed"
	SnapshotSaved     = "snapshot.saved"
)

// Event is a single pipeline occurrence.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	ContentID string    `json:"content_id,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Subscription is a live feed of events.
type Subscription struct {
	C  <-chan Event
	ch chan Event
	id uint64
}

// Hub keeps a bounded backlog of recent events and fans new events out to subscribers.
// Slow subscribers lose events rather than stall publishers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint64]chan Event
	nextID    uint64
	seq       uint64
	backlog   []Event
	head      int
	full      bool
	queueSize int
	dropped   uint64
}

// NewHub creates a hub that retains backlogSize recent events and buffers
// queueSize events per subscriber.
func NewHub(backlogSize, queueSize int) *Hub {
	if backlogSize <= 0 {
		backlogSize = 64
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Hub{
		subs:      make(map[uint64]chan Event),
		backlog:   make([]Event, backlogSize),
		queueSize: queueSize,
	}
}

// Publish records ev in the backlog and delivers it to every subscriber that has room.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev.Seq = h.seq
	h.backlog[h.head] = ev
	h.head = (h.head + 1) % len(h.backlog)
	if h.head == 0 {
		h.full = true
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
			slog.Debug("Event dropped for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// Recent returns the backlog, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.recentLocked()
}

func (h *Hub) recentLocked() []Event {
	if !h.full {
		return append([]Event(nil), h.backlog[:h.head]...)
	}
	out := make([]Event, 0, len(h.backlog))
	out = append(out, h.backlog[h.head:]...)
	return append(out, h.backlog[:h.head]...)
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked()
}

// SubscribeWithBacklog registers a new subscriber and returns the backlog as of
// that moment. Every event is in exactly one of the backlog or the feed.
func (h *Hub) SubscribeWithBacklog() (*Subscription, []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(), h.recentLocked()
}

func (h *Hub) subscribeLocked() *Subscription {
	h.nextID++
	ch := make(chan Event, h.queueSize)
	h.subs[h.nextID] = ch
	return &Subscription{C: ch, ch: ch, id: h.nextID}
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[s.id]; ok && ch == s.ch {
		delete(h.subs, s.id)
		close(ch)
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
