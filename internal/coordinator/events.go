package coordinator

import (
	"sync"
	"time"

	"github.com/reunitehq/reunite/internal/registry"
)

// eventChannelBuffer bounds a listener channel; slow listeners drop
// events rather than block the engine.
const eventChannelBuffer = 64

// TransitionEvent is a lifecycle transition fanned out to live listeners
// (the SSE stream).
type TransitionEvent struct {
	EntityID string           `json:"entity_id"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Trigger  registry.Trigger `json:"trigger"`
	At       time.Time        `json:"at"`
}

// Broadcaster provides listener management and event fan-out for the
// transition stream.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan TransitionEvent
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan TransitionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan TransitionEvent, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *Broadcaster) RemoveListener(ch chan TransitionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all listeners.
func (b *Broadcaster) Publish(event TransitionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
