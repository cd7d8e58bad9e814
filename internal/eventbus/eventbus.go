// Package eventbus provides an in-process pub/sub bus for session notifications.
// Surfaces publish ready/closed/command-ended/string-sent events here, and
// callers such as the CLI subscribe to react to them off the scheduler.
package eventbus

import (
	"strconv"
	"sync"
)

// EventType identifies the type of event.
type EventType string

const (
	EventReady        EventType = "ready"
	EventClosed       EventType = "closed"
	EventCommandEnded EventType = "command-ended"
	EventStringSent   EventType = "string-sent"
)

// Event represents a session notification in the bus.
type Event struct {
	Type    EventType
	Session string      // identity of the emitting session
	Data    interface{} // *command.Command for command-ended, string for string-sent
}

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 256

// Bus is an in-process event bus.
// All subscribers receive all events. Safe for concurrent publish/subscribe.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event // subscriber ID → event channel
	nextID      int
	closed      bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe creates a new subscription and returns a channel for receiving events.
// The returned unsubscribe function must be called to clean up when done.
func (b *Bus) Subscribe() (events <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := strconv.Itoa(b.nextID)
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that
// subscriber so a slow reader never stalls the session scheduler.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
