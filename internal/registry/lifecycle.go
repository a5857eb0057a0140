package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// SchemaHook is called after another adapter instance changed a schema.
type SchemaHook func()

// NotifierOpener opens the schema-change channel.
type NotifierOpener func(ctx context.Context) (core.SchemaNotifier, error)

// SchemaWatcher publishes schema-change events and dispatches events from
// other instances to the registered hooks. The channel is opened on first
// use. A watcher created with a nil opener is disabled and every call is a
// no-op.
type SchemaWatcher struct {
	instanceID string
	open       NotifierOpener
	logger     *slog.Logger

	mu        sync.Mutex
	notifier  core.SchemaNotifier
	listening bool
	closed    bool

	hooksMu sync.RWMutex
	hooks   []SchemaHook
}

// NewSchemaWatcher creates a watcher identified by instanceID.
func NewSchemaWatcher(instanceID string, open NotifierOpener, logger *slog.Logger) *SchemaWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaWatcher{
		instanceID: instanceID,
		open:       open,
		logger:     logger.With("component", "watcher", "instance", instanceID),
	}
}

// InstanceID returns the sender id stamped on published events.
func (w *SchemaWatcher) InstanceID() string {
	return w.instanceID
}

// Enabled reports whether the watcher has a channel to talk to.
func (w *SchemaWatcher) Enabled() bool {
	return w.open != nil
}

// RegisterHook adds a hook. Hooks run in registration order.
func (w *SchemaWatcher) RegisterHook(hook SchemaHook) {
	if hook == nil {
		return
	}
	w.hooksMu.Lock()
	defer w.hooksMu.Unlock()
	w.hooks = append(w.hooks, hook)
}

// ClearHooks removes all registered hooks.
func (w *SchemaWatcher) ClearHooks() {
	w.hooksMu.Lock()
	defer w.hooksMu.Unlock()
	w.hooks = nil
}

// HookCount returns the number of registered hooks.
func (w *SchemaWatcher) HookCount() int {
	w.hooksMu.RLock()
	defer w.hooksMu.RUnlock()
	return len(w.hooks)
}

func (w *SchemaWatcher) channel(ctx context.Context) (core.SchemaNotifier, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("schema watcher is closed")
	}
	if w.notifier != nil {
		return w.notifier, nil
	}
	n, err := w.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema change channel: %w", err)
	}
	w.notifier = n
	return n, nil
}

// Notify broadcasts a schema change. Failures are logged, never returned.
func (w *SchemaWatcher) Notify(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	n, err := w.channel(ctx)
	if err != nil {
		w.logger.Warn("schema change not published", "error", err)
		return
	}
	if err := n.Publish(ctx, core.SchemaChangeEvent{SenderID: w.instanceID}); err != nil {
		w.logger.Warn("schema change not published", "error", err)
	}
}

// Listen subscribes to the channel. Calling it again is a no-op.
func (w *SchemaWatcher) Listen(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}
	n, err := w.channel(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listening {
		return nil
	}
	if err := n.Subscribe(ctx, w.handle); err != nil {
		return fmt.Errorf("failed to subscribe to schema changes: %w", err)
	}
	w.listening = true
	w.logger.Info("listening for schema changes")
	return nil
}

func (w *SchemaWatcher) handle(event core.SchemaChangeEvent) {
	if event.SenderID == w.instanceID {
		return
	}
	w.hooksMu.RLock()
	hooks := make([]SchemaHook, len(w.hooks))
	copy(hooks, w.hooks)
	w.hooksMu.RUnlock()

	w.logger.Debug("schema changed elsewhere", "sender", event.SenderID, "hooks", len(hooks))
	for _, hook := range hooks {
		hook()
	}
}

// Close tears down the channel.
func (w *SchemaWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	n := w.notifier
	w.notifier = nil
	w.listening = false
	w.mu.Unlock()

	if n == nil {
		return nil
	}
	if err := n.Close(); err != nil {
		return fmt.Errorf("failed to close schema change channel: %w", err)
	}
	return nil
}
