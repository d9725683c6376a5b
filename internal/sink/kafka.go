package sink

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, messages []kafka.Message) error
}

// KafkaWriter publishes each event as a JSON record keyed by its path.
type KafkaWriter struct {
	publisher Publisher
}

func NewKafkaWriter(p Publisher) *KafkaWriter {
	return &KafkaWriter{publisher: p}
}

func (w *KafkaWriter) Write(ctx context.Context, events []watcher.ChangeEvent) error {
	messages := make([]kafka.Message, len(events))
	for i, e := range events {
		messages[i] = kafka.Message{Key: e.Path, Value: e}
	}
	return w.publisher.PublishBatch(ctx, messages)
}
