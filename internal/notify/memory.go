package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// Hub is an in-process broadcast channel. Notifiers created from the same
// hub and channel see each other's events.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*MemoryNotifier]func(core.SchemaChangeEvent)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[*MemoryNotifier]func(core.SchemaChangeEvent))}
}

var defaultHub = NewHub()

// MemoryNotifier is a core.SchemaNotifier on a Hub.
type MemoryNotifier struct {
	hub     *Hub
	channel string

	mu     sync.RWMutex
	closed bool
}

var _ core.SchemaNotifier = (*MemoryNotifier)(nil)

// Notifier returns a notifier on channel.
func (h *Hub) Notifier(channel string) *MemoryNotifier {
	return &MemoryNotifier{hub: h, channel: channel}
}

// Publish delivers event synchronously to every subscriber on the channel.
func (m *MemoryNotifier) Publish(ctx context.Context, event core.SchemaChangeEvent) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrNotifierClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.hub.mu.RLock()
	handlers := make([]func(core.SchemaChangeEvent), 0, len(m.hub.subscribers[m.channel]))
	for _, h := range m.hub.subscribers[m.channel] {
		handlers = append(handlers, h)
	}
	m.hub.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Subscribe registers handler. A second Subscribe replaces the handler.
func (m *MemoryNotifier) Subscribe(_ context.Context, handler func(core.SchemaChangeEvent)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrNotifierClosed
	}

	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	subs, ok := m.hub.subscribers[m.channel]
	if !ok {
		subs = make(map[*MemoryNotifier]func(core.SchemaChangeEvent))
		m.hub.subscribers[m.channel] = subs
	}
	subs[m] = handler
	return nil
}

// Close unsubscribes the notifier.
func (m *MemoryNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	m.hub.mu.Lock()
	delete(m.hub.subscribers[m.channel], m)
	m.hub.mu.Unlock()
	return nil
}

type memoryFactory struct{}

func (memoryFactory) Type() string { return "memory" }

func (memoryFactory) Validate(Config) error { return nil }

func (memoryFactory) Create(_ context.Context, cfg Config, _ *slog.Logger) (core.SchemaNotifier, error) {
	return defaultHub.Notifier(cfg.Channel), nil
}
