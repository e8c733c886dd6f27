package bus

import (
	"context"
	"sync"

	"github.com/unisonfm/unison/internal/room/events"
)

// MemoryBus delivers events synchronously to every subscribed handler, in
// publish order. Because the coordinator publishes while holding the room
// lock, handlers observe one room's events exactly in application order.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish invokes every handler with the event.
func (b *MemoryBus) Publish(_ context.Context, event *events.RoomEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}
