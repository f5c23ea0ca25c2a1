package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event types published by the dispatcher.
const (
	ZoneCreated     = "zone.created"
	ZoneAvailable   = "zone.available"
	ZoneStopped     = "zone.stopped"
	CommandQueued   = "command.queued"
	CommandStarted  = "command.started"
	CommandFinished = "command.finished"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub of zone lifecycle events, with a ring buffer so
// late readers can catch up on recent history.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring   []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

type subscriber struct {
	ch     chan Event
	prefix string
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records an event and fans it out. Slow subscribers miss events
// rather than blocking the publishing worker.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring and every subscriber see
	// them in increasing order; SSE resume relies on that.
	h.nextID++
	ev := Event{
		ID:   h.nextID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if !matches(ev, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events whose type starts with prefix (all
// events when prefix is empty) and a cancel func that closes it.
func (h *Hub) Subscribe(prefix string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = subscriber{ch: ch, prefix: prefix}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID whose type starts
// with prefix, oldest first.
func (h *Hub) SnapshotSince(lastID int64, prefix string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID && matches(ev, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

func matches(ev Event, prefix string) bool {
	return prefix == "" || strings.HasPrefix(ev.Type, prefix)
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Full: overwrite the oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
