package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// RedisNotifier broadcasts events over a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu       sync.Mutex
	pubsub   *redis.PubSub
	delivery *delivery
	closed   bool
}

var _ core.SchemaNotifier = (*RedisNotifier)(nil)

// NewRedisNotifier connects to Redis and checks the connection.
func NewRedisNotifier(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialTimeout := cfg.Redis.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisNotifierFromClient(client, cfg.Channel, logger), nil
}

// NewRedisNotifierFromClient wraps an existing client.
func NewRedisNotifierFromClient(client *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, channel: channel, logger: logger}
}

// Publish sends event to the channel.
func (r *RedisNotifier) Publish(ctx context.Context, event core.SchemaChangeEvent) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrNotifierClosed
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages until Close.
func (r *RedisNotifier) Subscribe(ctx context.Context, handler func(core.SchemaChangeEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNotifierClosed
	}
	if r.pubsub != nil {
		return fmt.Errorf("already subscribed to %s", r.channel)
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.logger.Info("subscribed to schema changes", "channel", r.channel)

	messages := pubsub.Channel()
	r.delivery = startDelivery(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("dropping schema change message", "error", err)
					continue
				}
				handler(event)
			}
		}
	})
	return nil
}

// Close stops delivery and closes the client.
func (r *RedisNotifier) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.delivery.stop()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.client.Close()
}

type redisFactory struct{}

func (redisFactory) Type() string { return "redis" }

func (redisFactory) Validate(cfg Config) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis db must be non-negative")
	}
	return nil
}

func (redisFactory) Create(ctx context.Context, cfg Config, logger *slog.Logger) (core.SchemaNotifier, error) {
	return NewRedisNotifier(ctx, cfg, logger)
}
