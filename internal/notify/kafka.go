package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

const defaultKafkaGroup = "docbridge-schema"

// KafkaNotifier broadcasts events on a Kafka topic. Each instance reads
// with its own consumer group starting at the newest offset, so every
// instance sees every event published after it subscribed.
type KafkaNotifier struct {
	brokers []string
	topic   string
	groupID string
	writer  *kafka.Writer
	logger  *slog.Logger

	mu       sync.Mutex
	reader   *kafka.Reader
	delivery *delivery
	closed   bool
}

var _ core.SchemaNotifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates the producer. The consumer starts on Subscribe.
func NewKafkaNotifier(cfg Config, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = cfg.Channel
	}
	group := cfg.Kafka.GroupID
	if group == "" {
		group = defaultKafkaGroup
	}
	return &KafkaNotifier{
		brokers: cfg.Kafka.Brokers,
		topic:   topic,
		groupID: group + "-" + uuid.NewString(),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		logger: logger,
	}
}

// Publish writes event to the topic.
func (k *KafkaNotifier) Publish(ctx context.Context, event core.SchemaChangeEvent) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrNotifierClosed
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.SenderID),
		Value: payload,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to topic %s: %w", k.topic, err)
	}
	return nil
}

// Subscribe starts the consumer.
func (k *KafkaNotifier) Subscribe(_ context.Context, handler func(core.SchemaChangeEvent)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrNotifierClosed
	}
	if k.reader != nil {
		return fmt.Errorf("already consuming %s", k.topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     k.groupID,
		StartOffset: kafka.LastOffset,
	})
	k.reader = reader
	k.logger.Info("consuming schema changes", "topic", k.topic, "group", k.groupID)

	k.delivery = startDelivery(func(ctx context.Context) {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
					k.logger.Warn("schema change consumer stopped", "error", err)
				}
				return
			}
			event, err := decodeEvent(msg.Value)
			if err != nil {
				k.logger.Warn("dropping schema change message", "offset", msg.Offset, "error", err)
				continue
			}
			handler(event)
		}
	})
	return nil
}

// Close stops the consumer and flushes the producer.
func (k *KafkaNotifier) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.delivery.stop()

	var errs []error
	if k.reader != nil {
		if err := k.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reader: %w", err))
		}
	}
	if err := k.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
	}
	return errors.Join(errs...)
}

type kafkaFactory struct{}

func (kafkaFactory) Type() string { return "kafka" }

func (kafkaFactory) Validate(cfg Config) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	return nil
}

func (kafkaFactory) Create(_ context.Context, cfg Config, logger *slog.Logger) (core.SchemaNotifier, error) {
	return NewKafkaNotifier(cfg, logger), nil
}
