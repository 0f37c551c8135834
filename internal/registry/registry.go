// Package registry tracks the live status of every mocap connection the bridge runs.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/events"
	"github.com/mattjoyce/lmcbridge/internal/supervisor"
)

// Purpose is the purpose string every bridge connection is registered with.
const Purpose = "mocap"

// Connection is a point-in-time view of one connection.
type Connection struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Type      string             `json:"type"`
	Purpose   string             `json:"purpose"`
	State     supervisor.State   `json:"state"`
	Outcome   supervisor.Outcome `json:"outcome,omitempty"`
	Frames    int64              `json:"frames"`
	LastError string             `json:"last_error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty"`
	LastFrame *time.Time         `json:"last_frame_at,omitempty"`
}

// Counts aggregates connections by state.
type Counts struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
	Closed  int `json:"closed"`
}

// Registry implements supervisor.Observer.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	pub   events.Publisher
	now   func() time.Time
}

var _ supervisor.Observer = (*Registry)(nil)

// New creates a Registry. pub may be nil.
func New(pub events.Publisher) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		pub:   pub,
		now:   time.Now,
	}
}

// Use registers a connection and returns a func that removes it again.
// Registering an id twice replaces the earlier entry.
func (r *Registry) Use(id, name, connType string) (release func()) {
	r.mu.Lock()
	r.conns[id] = &Connection{
		ID:      id,
		Name:    name,
		Type:    connType,
		Purpose: Purpose,
		State:   supervisor.StateStarting,
	}
	r.mu.Unlock()

	r.publish(events.ConnectionRegistered, map[string]any{"id": id, "name": name, "type": connType})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.conns, id)
			r.mu.Unlock()
		})
	}
}

// OnState records a lifecycle transition.
func (r *Registry) OnState(id string, state supervisor.State, outcome supervisor.Outcome, err error) {
	now := r.now().UTC()

	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	c.State = state
	c.Outcome = outcome
	if err != nil {
		c.LastError = err.Error()
		c.ErrorKind = string(supervisor.Classify(err))
	}
	switch state {
	case supervisor.StateRunning:
		c.StartedAt = &now
	case supervisor.StateClosed:
		c.ClosedAt = &now
	}
	name := c.Name
	r.mu.Unlock()

	data := map[string]any{"id": id, "name": name, "state": state}
	switch {
	case state == supervisor.StateStarting:
		r.publish(events.ConnectionStarting, data)
	case state == supervisor.StateRunning:
		r.publish(events.ConnectionRunning, data)
	case state == supervisor.StateClosed && outcome == supervisor.OutcomeFailed:
		data["error"] = errString(err)
		data["kind"] = supervisor.Classify(err)
		r.publish(events.ConnectionFailed, data)
	case state == supervisor.StateClosed:
		data["outcome"] = outcome
		r.publish(events.ConnectionClosed, data)
	}
}

// OnFrame counts a delivered frame.
func (r *Registry) OnFrame(id string) {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Frames++
		c.LastFrame = &now
	}
}

// Get returns a copy of one connection.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Snapshot returns copies of all connections ordered by index.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// Counts summarizes the current states.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n Counts
	for _, c := range r.conns {
		n.Total++
		switch {
		case c.State == supervisor.StateRunning:
			n.Running++
		case c.State == supervisor.StateClosed && c.Outcome == supervisor.OutcomeFailed:
			n.Failed++
		case c.State == supervisor.StateClosed:
			n.Closed++
		}
	}
	return n
}

func (r *Registry) publish(eventType string, data any) {
	if r.pub != nil {
		r.pub.Publish(eventType, data)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// lessID orders "lmc/2" before "lmc/10".
func lessID(a, b string) bool {
	ai, aok := idIndex(a)
	bi, bok := idIndex(b)
	if aok && bok && ai != bi {
		return ai < bi
	}
	return a < b
}

func idIndex(id string) (int, bool) {
	i := strings.LastIndexByte(id, '/')
	n, err := strconv.Atoi(id[i+1:])
	return n, err == nil
}
