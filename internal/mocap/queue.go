package mocap

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/events"
	"github.com/mattjoyce/lmcbridge/internal/translator"
)

const DefaultQueueSize = 256

// Stats reports queue throughput.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Queue is the frame sink shared by all connections. It is bounded; when full,
// the oldest pending frame is dropped so producers never block.
// A single consumer (Run) keeps the latest frame per connection.
type Queue struct {
	mu      sync.Mutex
	pending []*Frame
	size    int
	wake    chan struct{}
	stats   Stats

	latest map[string]*Frame

	hub      *events.Hub
	interval time.Duration
}

var _ translator.Sink = (*Queue)(nil)

// NewQueue creates a queue holding at most size frames. hub may be nil;
// otherwise one frame.received event per connection is published per interval.
func NewQueue(size int, hub *events.Hub, interval time.Duration) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		size:     size,
		wake:     make(chan struct{}, 1),
		latest:   make(map[string]*Frame),
		hub:      hub,
		interval: interval,
	}
}

// Enqueue implements translator.Sink. Frames of other types are ignored.
func (q *Queue) Enqueue(frame translator.Frame) {
	f, ok := frame.(*Frame)
	if !ok || f == nil {
		return
	}

	q.mu.Lock()
	if len(q.pending) >= q.size {
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.stats.Dropped++
	}
	q.pending = append(q.pending, f)
	q.stats.Enqueued++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run consumes frames until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for _, f := range q.drain() {
			q.deliver(f)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

func (q *Queue) drain() []*Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *Queue) deliver(f *Frame) {
	q.mu.Lock()
	q.latest[f.Connection] = f
	q.stats.Delivered++
	q.mu.Unlock()

	if q.hub != nil {
		q.hub.PublishSampled(f.Connection, q.interval, events.FrameReceived, map[string]any{
			"connection": f.Connection,
			"t":          f.Timestamp,
			"items":      len(f.Items),
		})
	}
}

// Latest returns the most recent delivered frame for every connection.
func (q *Queue) Latest() map[string]*Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*Frame, len(q.latest))
	for id, f := range q.latest {
		out[id] = f
	}
	return out
}

// LatestFor returns the most recent frame for one connection.
func (q *Queue) LatestFor(id string) (*Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.latest[id]
	return f, ok
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}
