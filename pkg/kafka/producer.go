// Package kafka publishes and consumes JSON-encoded change records on a
// Kafka topic using segmentio/kafka-go. Records are keyed by file path so
// every change to one file lands on the same partition, in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is one record to publish. Value is JSON-serialised.
type Message struct {
	Key   string
	Value any
}

// Producer writes messages to the configured topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for cfg.Topic. No connection is made until
// the first write.
func NewProducer(cfg config.KafkaConfig) *Producer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", cfg.Topic),
	}
}

// PublishBatch writes messages in one synchronous call. Retrying is left to
// the caller.
func (p *Producer) PublishBatch(ctx context.Context, messages []Message) error {
	records := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		value, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("marshaling message %s: %w", m.Key, err)
		}
		records = append(records, kafka.Message{Key: []byte(m.Key), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("publishing %d messages: %w", len(records), err)
	}
	p.logger.Debug("batch published", "count", len(records))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
