// Package notify carries schema-change events between adapter instances
// over Postgres LISTEN/NOTIFY, Redis pub/sub, a Kafka topic or an
// in-process hub.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// ErrUnsupportedNotifierType is returned for a type no factory handles.
var ErrUnsupportedNotifierType = errors.New("unsupported notifier type")

// ErrNotifierClosed is returned by Publish and Subscribe after Close.
var ErrNotifierClosed = errors.New("notifier is closed")

// Config selects and configures a notifier.
type Config struct {
	// Type is one of the registered factory types.
	Type string

	// Channel is the channel, pub/sub channel or topic name.
	Channel string

	// PublishRate caps publishes per second. Zero disables the throttle.
	PublishRate float64

	// PublishBurst is the throttle burst size.
	PublishBurst int

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// PostgresConfig configures LISTEN/NOTIFY.
type PostgresConfig struct {
	// URI is the connection string of the dedicated listening connection.
	URI string

	// Publisher runs pg_notify. It is normally the adapter's pool.
	Publisher core.Querier
}

// RedisConfig configures Redis pub/sub.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// KafkaConfig configures the Kafka topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// GroupID prefixes the per-instance consumer group. Every instance
	// reads every event.
	GroupID string
}

// Factory is the strategy interface each notifier backend implements.
type Factory interface {
	// Create builds a notifier for cfg.
	Create(ctx context.Context, cfg Config, logger *slog.Logger) (core.SchemaNotifier, error)

	// Type returns the configuration type this factory handles.
	Type() string

	// Validate checks the backend-specific part of cfg.
	Validate(cfg Config) error
}

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

func init() {
	RegisterFactory(postgresFactory{})
	RegisterFactory(redisFactory{})
	RegisterFactory(kafkaFactory{})
	RegisterFactory(memoryFactory{})
}

// RegisterFactory registers a notifier backend. It panics on an empty or
// duplicate type.
func RegisterFactory(f Factory) {
	if f == nil {
		panic("factory cannot be nil")
	}
	if f.Type() == "" {
		panic("factory type cannot be empty")
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[f.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", f.Type()))
	}
	factories[f.Type()] = f
}

// Create builds the notifier cfg.Type names, throttled when
// cfg.PublishRate is set.
func Create(ctx context.Context, cfg Config, logger *slog.Logger) (core.SchemaNotifier, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("notifier type is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("notifier channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNotifierType, cfg.Type)
	}
	if err := f.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s notifier: %w", cfg.Type, err)
	}

	n, err := f.Create(ctx, cfg, logger.With("component", "notify", "type", cfg.Type))
	if err != nil {
		return nil, err
	}
	if cfg.PublishRate > 0 {
		return NewThrottled(n, cfg.PublishRate, cfg.PublishBurst), nil
	}
	return n, nil
}

// RegisteredTypes lists the registered backend types in order.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func encodeEvent(event core.SchemaChangeEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema change event: %w", err)
	}
	return data, nil
}

func decodeEvent(payload []byte) (core.SchemaChangeEvent, error) {
	var event core.SchemaChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("failed to decode schema change event: %w", err)
	}
	return event, nil
}

// delivery runs one background receive loop and stops it on Close.
type delivery struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startDelivery(loop func(ctx context.Context)) *delivery {
	ctx, cancel := context.WithCancel(context.Background())
	d := &delivery{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		loop(ctx)
	}()
	return d
}

func (d *delivery) stop() {
	if d == nil {
		return
	}
	d.cancel()
	<-d.done
}
