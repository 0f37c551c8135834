package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bridge.
const (
	ConnectionRegistered = "connection.registered"
	ConnectionStarting   = "connection.starting"
	ConnectionRunning    = "connection.running"
	ConnectionFailed     = "connection.failed"
	ConnectionClosed     = "connection.closed"
	FrameReceived        = "frame.received"
	BridgeStarted        = "bridge.started"
	BridgeStopped        = "bridge.stopped"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu   sync.Mutex
	ring ring

	subs      map[int]chan Event
	nextSubID int

	// lastSampled tracks PublishSampled per key.
	lastSampled map[string]time.Time
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring:        ring{buf: make([]Event, capacity)},
		subs:        make(map[int]chan Event),
		lastSampled: make(map[string]time.Time),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(eventType, payload)
}

// PublishSampled publishes at most one event per key per interval and reports
// whether this call published. Frame streams use it so 100 Hz mocap data does
// not flood subscribers.
func (h *Hub) PublishSampled(key string, interval time.Duration, eventType string, data any) bool {
	now := time.Now()

	h.mu.Lock()
	last, seen := h.lastSampled[key]
	if seen && now.Sub(last) < interval {
		h.mu.Unlock()
		return false
	}
	h.lastSampled[key] = now
	h.mu.Unlock()

	h.Publish(eventType, data)
	return true
}

func (h *Hub) publishLocked(eventType string, payload json.RawMessage) {
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.ring.push(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.since(lastID)
}

// ring is a fixed-size buffer that overwrites its oldest entry when full.
type ring struct {
	buf   []Event
	start int
	size  int
}

func (r *ring) push(ev Event) {
	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.start+r.size)%capacity] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % capacity
}

func (r *ring) since(lastID int64) []Event {
	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
