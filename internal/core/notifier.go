package core

import (
	"context"
)

// SchemaChangeEvent is broadcast after every schema mutation.
type SchemaChangeEvent struct {
	// SenderID identifies the adapter instance that made the change.
	SenderID string `json:"senderId"`
}

// SchemaNotifier is a publish/subscribe side channel shared by adapter
// instances.
type SchemaNotifier interface {
	// Publish broadcasts an event to every subscriber, including the sender.
	Publish(ctx context.Context, event SchemaChangeEvent) error

	// Subscribe starts delivering events to handler. It returns once the
	// subscription is active; delivery continues until Close.
	Subscribe(ctx context.Context, handler func(SchemaChangeEvent)) error

	// Close stops delivery and releases the channel connection.
	Close() error
}
