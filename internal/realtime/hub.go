// Package realtime is an in-process publish/subscribe hub for live updates.
//
// The engine publishes per-tenant events (announcement posts, delivery
// progress); live consumers such as an SSE or websocket surface subscribe by
// group. The hub is the default Realtime implementation; an external broker
// can replace it without touching the publishers.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one live update delivered to a group's subscribers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Payload should be small and JSON-serializable.
type Event struct {
	Group   string
	Type    string
	Time    time.Time
	Payload any
}

// Hub is an in-memory group fanout. It owns no background goroutines.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan Event
	seq  atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan Event{}}
}

// Publish delivers an event to every subscriber of the group. It satisfies
// the engine's Realtime transport and never blocks or fails.
func (h *Hub) Publish(_ context.Context, group, eventType string, payload any) error {
	e := Event{Group: group, Type: eventType, Time: time.Now().UTC(), Payload: payload}

	// Snapshot subscribers so Publish doesn't hold locks while sending.
	h.mu.RLock()
	chs := make([]chan Event, 0, len(h.subs[group]))
	for _, ch := range h.subs[group] {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a slow subscriber drops. If the subscriber
		// unsubscribes concurrently and the channel closes, recover from the
		// send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
	return nil
}

// Subscribe registers a consumer for one group. The returned function
// unsubscribes and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(group string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	if h.subs[group] == nil {
		h.subs[group] = map[uint64]chan Event{}
	}
	h.subs[group][id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[group], id)
			if len(h.subs[group]) == 0 {
				delete(h.subs, group)
			}
			h.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
