// Package events implements the gateway's fan-out publish/subscribe bus.
// It generalizes the listener-registration/fire-and-forget dispatch shape of
// github.com/joeycumines/go-eventloop's EventTarget to a typed Go-generic bus,
// since the gateway has no DOM-style event tree to model, only named
// broadcast topics (spec section 6: "Events (fan-out, multiple subscribers)").
package events

import (
	"sort"
	"sync"
)

// ListenerID uniquely identifies a registered listener, for removal.
type ListenerID uint64

// Bus is a typed, fan-out publish/subscribe channel for one event payload
// type. It is safe for concurrent use. Handlers run synchronously, in
// registration order, on the publishing goroutine — callers that may block
// should dispatch to their own goroutine/worker from within the handler
// (spec section 9 Design Notes: "if handlers may block, dispatch via a
// bounded task/channel to avoid head-of-line blocking").
type Bus[T any] struct {
	mu        sync.RWMutex
	listeners map[ListenerID]func(T)
	nextID    ListenerID
}

// NewBus constructs an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{listeners: make(map[ListenerID]func(T))}
}

// Subscribe registers handler and returns an ID usable with Unsubscribe.
func (b *Bus[T]) Subscribe(handler func(T)) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = handler
	return id
}

// Unsubscribe removes a previously registered handler. It is a no-op if id
// is unknown (already removed, or never registered).
func (b *Bus[T]) Unsubscribe(id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Publish fans event out to every currently registered handler. The handler
// snapshot is taken under lock, then invoked outside it, so a handler may
// freely Subscribe/Unsubscribe without deadlocking.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	ids := make([]ListenerID, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.listeners[id])
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Len reports the number of currently registered listeners.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
