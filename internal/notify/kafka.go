// internal/notify/kafka.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaNotifier publishes events to a Kafka topic so external alerting
// can consume escalations without polling the API.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier creates a Kafka-backed notifier. Events with the same
// provider key land on the same partition, preserving per-provider order.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: at least one broker required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier: topic required")
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	})

	return &KafkaNotifier{writer: w, logger: logger}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka notifier: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Provider),
		Value: value,
		Time:  ev.Time,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.writer.WriteMessages(writeCtx, msg); err != nil {
		n.logger.Warn("escalation event not delivered to kafka",
			zap.String("topic", n.writer.Topic),
			zap.Error(err))
		return fmt.Errorf("kafka notifier: write: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
