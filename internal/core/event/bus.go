// Package event carries cross-component notifications. The bus is a
// typed publish/subscribe fan-out keyed by the concrete event type.
package event

import (
	"reflect"
	"sync"
)

// Bus dispatches events to typed handlers. Emit from any goroutine is
// fine; handlers run synchronously on the emitter's goroutine and must
// do their own locking.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]any)}
}

// Subscribe registers a typed handler for events of type T. There is
// no unsubscribe: handlers live as long as the bus.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], fn)
}

// Emit delivers the event to every handler subscribed to T, in
// subscription order.
func Emit[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	handlers := b.handlers[t]
	b.mu.RUnlock()
	for _, h := range handlers {
		// Safe because Subscribe and Emit use the same type key.
		h.(func(T))(event)
	}
}
