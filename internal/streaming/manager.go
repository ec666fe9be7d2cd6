// Package streaming provides in-memory pub/sub for tree progress events,
// with a per-tree ring buffer so late subscribers can replay what they
// missed (Last-Event-ID style).
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the scheduler and tree manager.
const (
	EventTreeStarted   = "tree_started"
	EventTreeCompleted = "tree_completed"
	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"
	EventLevelSettled  = "level_settled"
)

// Event is one progress update for a research tree.
type Event struct {
	TreeID    string    `json:"tree_id"`
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	Query     string    `json:"query,omitempty"`
	Depth     int       `json:"depth"`
	Message   string    `json:"message,omitempty"`
	Total     int       `json:"total_nodes,omitempty"`
	Completed int       `json:"completed_nodes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager fans events out to subscribers keyed by tree ID.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// DefaultRingCapacity bounds per-tree replay history.
const DefaultRingCapacity = 256

// NewManager creates a streaming manager with the given replay capacity
// per tree (0 uses the default).
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a tree; the caller must drain it
// and call Unsubscribe when done.
func (m *Manager) Subscribe(treeID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[treeID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[treeID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(treeID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[treeID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, treeID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and
// fans it out without blocking; slow subscribers lose events rather than
// stalling node execution.
func (m *Manager) Publish(treeID string, evt Event) {
	m.mu.Lock()
	rg := m.history[treeID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[treeID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	rg.push(evt)
	subs := m.subscribers[treeID]
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
}

// ReplaySince returns buffered events with Seq > since (best-effort
// within ring capacity).
func (m *Manager) ReplaySince(treeID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[treeID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop releases the replay history of a finished tree.
func (m *Manager) Drop(treeID string) {
	m.mu.Lock()
	delete(m.history, treeID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
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
