package kafka

import (
	"context"

	"github.com/example/sendcoord/internal/kafka/consumer"
)

// sourceConsumer adapts *consumer.Consumer (the Sarama-backed consumer
// group) to the Consumer interface Intake depends on, so Intake itself
// never imports Sarama types directly.
type sourceConsumer struct {
	cons *consumer.Consumer
}

// Adapt wraps a live Kafka consumer group for use with Intake.Run.
func Adapt(cons *consumer.Consumer) Consumer {
	return sourceConsumer{cons: cons}
}

func (s sourceConsumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	return s.cons.Consume(ctx, topics, func(ctx context.Context, rec *consumer.Record) error {
		out := &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Value:     rec.Value,
		}
		if err := handler(ctx, out); err != nil {
			return err
		}
		return s.cons.Commit(ctx, rec)
	})
}
