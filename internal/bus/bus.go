package bus

import (
	"sync"
)

// Event is a named lifecycle notification with an optional payload.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers run on the publisher's
// goroutine and must not block.
type EventHandler func(event Event)

// MessageBus fans session events out to subscribers (CLI renderers,
// pairing recorder, tests).
type MessageBus struct {
	// Event subscribers (subscriber ID → handler)
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
	closed      bool
}

func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id, replacing any previous
// handler with the same id.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	if mb.closed {
		return
	}
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Broadcast sends an event to all subscribers.
func (mb *MessageBus) Broadcast(event Event) {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	for _, handler := range mb.subscribers {
		handler(event) // handlers should be non-blocking
	}
}

// Close drops all subscribers; later Subscribe calls are ignored.
func (mb *MessageBus) Close() {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.closed = true
	mb.subscribers = make(map[string]EventHandler)
}

// Channel subscribes a buffered channel under id. Events that do not fit in
// the buffer are dropped and counted in the returned func's result.
func (mb *MessageBus) Channel(id string, size int) (<-chan Event, func() int) {
	ch := make(chan Event, size)
	var dropped int
	var mu sync.Mutex
	mb.Subscribe(id, func(event Event) {
		select {
		case ch <- event:
		default:
			mu.Lock()
			dropped++
			mu.Unlock()
		}
	})
	return ch, func() int {
		mu.Lock()
		defer mu.Unlock()
		return dropped
	}
}
