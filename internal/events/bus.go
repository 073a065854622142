// Package events provides a typed publish/subscribe bus for engine events.
// Components publish without knowing who is listening; the API/WebSocket
// layer subscribes and relays to browsers.
package events

import (
	"sync"
	"time"
)

// Type names an event stream.
type Type string

const (
	HostUpdated      Type = "host:updated"
	HostDisconnected Type = "host:disconnected"
	ProcessMetrics   Type = "process:metrics"
	ProcessError     Type = "process:error"
	ProcessUpdate    Type = "process:update"
	LogEntry         Type = "log:entry"
)

// Event is a single published occurrence.
type Event struct {
	Type      Type
	HostID    string
	Payload   interface{}
	Timestamp time.Time
}

// subscriber is one registered channel with its type filter.
type subscriber struct {
	types map[Type]bool // nil means all types
	ch    chan Event
}

// Bus fans events out to subscribers. Delivery is non-blocking: a subscriber
// whose buffer is full misses the event rather than stalling publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in the given event types (all types when none
// are given). It returns the receive channel and a cancel function that
// unregisters and closes it.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 64)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers an event to all matching subscribers. The timestamp is
// stamped here if the caller left it zero.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; drop rather than block publishers.
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
