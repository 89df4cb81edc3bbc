package events

import (
	"context"
	"sync"

	"timeline_sync/internal/domain"
)

// Bus delivers published events synchronously to every live subscriber.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

func (b *Bus) Subscribe(_ context.Context, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[id] = h

	return &busSubscription{bus: b, id: id}, nil
}

// Publish calls each handler in the caller's goroutine.
func (b *Bus) Publish(ev domain.RemovalEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

type busSubscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

func (s *busSubscription) Close() error {
	s.once.Do(func() { s.bus.unsubscribe(s.id) })
	return nil
}
