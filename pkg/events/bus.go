// Package events provides the in-process event bus and the WebSocket fan-out
// built on top of it.
//
// The Bus delivers events synchronously: Publish invokes every matching
// handler on the calling goroutine before returning. Handlers that need
// decoupling from the publisher (slow consumers, network writes) are expected
// to hand the event off to their own goroutine, as the ConnectionManager
// bridge does. A panicking handler is logged and skipped; it never takes the
// publisher down.
package events

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler receives events published on the bus.
type Handler func(event Event)

// Subscription identifies a registered handler so it can be removed later.
type Subscription struct {
	eventType string
	id        int
}

// Bus is a synchronous in-process publish/subscribe hub keyed by event type.
// Subscribing to WildcardType receives every event.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler

	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[int]Handler),
		logger:   slog.Default().With("component", "event_bus"),
	}
}

// Subscribe registers a handler for the given event type. Use WildcardType to
// receive all events. The returned subscription is passed to Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	b.handlers[eventType][id] = handler
	return Subscription{eventType: eventType, id: id}
}

// Unsubscribe removes a previously registered handler. Unsubscribing twice is
// a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[sub.eventType]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.handlers, sub.eventType)
		}
	}
}

// Publish delivers the event to every handler subscribed to its type and to
// the wildcard. Delivery is synchronous and in registration order per type;
// a handler panic is recovered and logged so remaining handlers still run.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.orderedLocked(event.Type)
	if event.Type != WildcardType {
		handlers = append(handlers, b.orderedLocked(WildcardType)...)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(event, handler)
	}
}

// orderedLocked returns the type's handlers in registration order.
// Subscription ids increase monotonically, so sorting them recovers
// the order handlers were added in.
func (b *Bus) orderedLocked(eventType string) []Handler {
	set := b.handlers[eventType]
	if len(set) == 0 {
		return nil
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, set[id])
	}
	return out
}

// SubscriberCount returns the number of handlers registered for the type,
// not counting wildcard subscribers.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *Bus) dispatch(event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"event_type", event.Type,
				"channel", event.Channel,
				"panic", r)
		}
	}()
	handler(event)
}
