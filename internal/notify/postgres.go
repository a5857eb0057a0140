package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// PostgresNotifier listens on a dedicated connection and publishes with
// pg_notify through the adapter's pool.
type PostgresNotifier struct {
	uri       string
	channel   string
	publisher core.Querier
	logger    *slog.Logger

	mu       sync.Mutex
	conn     *pgx.Conn
	delivery *delivery
	closed   bool
}

var _ core.SchemaNotifier = (*PostgresNotifier)(nil)

// NewPostgresNotifier creates a notifier. No connection is opened until
// Subscribe.
func NewPostgresNotifier(cfg Config, logger *slog.Logger) *PostgresNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresNotifier{
		uri:       cfg.Postgres.URI,
		channel:   cfg.Channel,
		publisher: cfg.Postgres.Publisher,
		logger:    logger,
	}
}

// Publish sends event as the NOTIFY payload.
func (p *PostgresNotifier) Publish(ctx context.Context, event core.SchemaChangeEvent) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrNotifierClosed
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if _, err := p.publisher.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", p.channel, err)
	}
	return nil
}

// Subscribe opens the listening connection and starts delivery.
func (p *PostgresNotifier) Subscribe(ctx context.Context, handler func(core.SchemaChangeEvent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNotifierClosed
	}
	if p.conn != nil {
		return fmt.Errorf("already listening on %s", p.channel)
	}

	conn, err := pgx.Connect(ctx, p.uri)
	if err != nil {
		return fmt.Errorf("failed to open listening connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("failed to listen on %s: %w", p.channel, err)
	}
	p.conn = conn
	p.logger.Info("listening for schema changes", "channel", p.channel)

	p.delivery = startDelivery(func(ctx context.Context) {
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Warn("schema change listener stopped", "error", err)
				}
				return
			}
			event, err := decodeEvent([]byte(n.Payload))
			if err != nil {
				p.logger.Warn("dropping schema change notification", "error", err)
				continue
			}
			handler(event)
		}
	})
	return nil
}

// Close stops delivery and closes the listening connection.
func (p *PostgresNotifier) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.delivery.stop()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close(context.Background())
}

type postgresFactory struct{}

func (postgresFactory) Type() string { return "postgres" }

func (postgresFactory) Validate(cfg Config) error {
	if cfg.Postgres.URI == "" {
		return fmt.Errorf("postgres uri is required")
	}
	if cfg.Postgres.Publisher == nil {
		return fmt.Errorf("postgres publisher is required")
	}
	return nil
}

func (postgresFactory) Create(_ context.Context, cfg Config, logger *slog.Logger) (core.SchemaNotifier, error) {
	return NewPostgresNotifier(cfg, logger), nil
}
