package memory

import (
	"context"
	"sync"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// InMemoryEventBus implements EventBus with in-process fan-out. Suitable
// for tests and single-instance deployments.
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]ports.EventHandler
	nextID      uint64
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]ports.EventHandler),
	}
}

// Publish delivers an event to all subscribers of a topic. Handlers run
// synchronously; handler errors are swallowed, since delivery is
// fire-and-forget for the publisher.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.RunEvent) error {
	e.mu.RLock()
	handlers := make([]ports.EventHandler, 0, len(e.subscribers[topic]))
	for _, handler := range e.subscribers[topic] {
		handlers = append(handlers, handler)
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for a topic until the context is
// cancelled, at which point the handler is removed.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]ports.EventHandler)
	}
	id := e.nextID
	e.nextID++
	e.subscribers[topic][id] = handler
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.subscribers[topic], id)
		e.mu.Unlock()
	}()
	return nil
}

// Close clears all subscribers.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string]map[uint64]ports.EventHandler)
	return nil
}
