package bus

import "sync"

// Bus is an in-process event broadcaster. Handlers are invoked synchronously
// in Publish; they must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]Handler)}
}

// Subscribe registers a handler under an id, replacing any previous handler
// with the same id.
func (b *Bus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
