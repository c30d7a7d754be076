// Package events fans orchestration progress out to websocket clients.
// In-memory pub/sub keyed by session, with a per-session ring buffer so
// reconnecting clients can replay what they missed.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/arguslabs/argus/internal/metrics"
)

// Type names one kind of lifecycle event.
type Type string

const (
	TypeEyeStarted     Type = "eye_started"
	TypeEyeCompleted   Type = "eye_completed"
	TypeTaskPaused     Type = "task_paused"
	TypeTaskCompleted  Type = "task_completed"
	TypeTaskIncomplete Type = "task_incomplete"
	TypeTaskFailed     Type = "task_failed"

	TypePipelineStepStarted   Type = "pipeline_step_started"
	TypePipelineStepCompleted Type = "pipeline_step_completed"
	TypePipelineStepSkipped   Type = "pipeline_step_skipped"
)

// Event is one progress notification. Seq is assigned by the bus,
// monotonically per session starting at 1; clients resume with the
// last seq they saw.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Eye       string    `json:"eye,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal renders the event for the wire.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultCapacity = 256

// Bus is the in-memory event fan-out. Publishing never blocks: slow
// subscribers lose events and recover them through ReplaySince.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewBus builds a bus whose per-session replay rings hold capacity
// events; capacity <= 0 selects the default of 256.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a channel for one session's events. The caller
// must drain it and call Unsubscribe when done.
func (b *Bus) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		b.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.EventSubscribers.Inc()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(sessionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.EventSubscribers.Dec()
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// Publish assigns the next sequence number, records the event in the
// replay ring and delivers it to current subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	rg := b.history[evt.SessionID]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[evt.SessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	subs := b.subscribers[evt.SessionID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; it catches up via ReplaySince.
		}
	}
}

// ReplaySince returns the session's buffered events with Seq > since,
// oldest first. Zero replays everything still in the ring.
func (b *Bus) ReplaySince(sessionID string, since uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rg := b.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// DropSession discards a finished session's ring and closes its
// subscribers.
func (b *Bus) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, sessionID)
	for ch := range b.subscribers[sessionID] {
		close(ch)
		metrics.EventSubscribers.Dec()
	}
	delete(b.subscribers, sessionID)
}

// ring is a fixed-capacity event buffer. Sequence numbers start at 1
// so "since 0" means "from the beginning".
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
