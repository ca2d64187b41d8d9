// Package kafka provides an optional Kafka-backed front door: a consumer
// loop that decodes inbound records into coordinator.Message and calls
// Submit, committing the record once the engine has produced a
// terminal-or-queued result. All retry and fallback logic stays inside the
// coordinator; this package only bridges records into it, the way the
// teacher's worker.KafkaHandler bridges consumer records into Engine.HandleRecord.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sendcoord/internal/coordinator"
)

// Record is the subset of a consumed Kafka record the intake needs.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Value     []byte
}

// Consumer captures the subset of consumer behaviour the intake needs,
// matching the teacher's consumer.Consumer seam.
type Consumer interface {
	Consume(ctx context.Context, topics []string, handler Handler) error
}

// Handler mirrors the teacher's consumer.Handler shape.
type Handler func(ctx context.Context, rec *Record) error

// wireMessage is the JSON shape expected on the intake topic.
type wireMessage struct {
	Destination    string `json:"destination"`
	Origin         string `json:"origin"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	IdempotencyTag string `json:"idempotency_tag"`
}

// Intake decodes inbound records and submits them to a Coordinator.
type Intake struct {
	coordinator *coordinator.Coordinator
	logger      zerolog.Logger
}

// New constructs an Intake bound to the given coordinator.
func New(c *coordinator.Coordinator, logger zerolog.Logger) (*Intake, error) {
	if c == nil {
		return nil, fmt.Errorf("intake/kafka: coordinator is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Intake{coordinator: c, logger: logger}, nil
}

// Run subscribes to topics on cons and submits every decoded record to the
// coordinator until ctx is cancelled.
func (in *Intake) Run(ctx context.Context, cons Consumer, topics []string) error {
	return cons.Consume(ctx, topics, in.handle)
}

func (in *Intake) handle(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}

	var wire wireMessage
	if err := json.Unmarshal(rec.Value, &wire); err != nil {
		in.logger.Error().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("intake/kafka: decode record")
		return nil
	}

	msg := coordinator.Message{
		Destination:    wire.Destination,
		Origin:         wire.Origin,
		Subject:        wire.Subject,
		Body:           wire.Body,
		IdempotencyTag: wire.IdempotencyTag,
	}

	result, err := in.coordinator.Submit(ctx, msg)
	if err != nil {
		in.logger.Error().Err(err).Str("topic", rec.Topic).Int64("offset", rec.Offset).Msg("intake/kafka: submit")
		return err
	}

	switch {
	case result.Success != nil:
		in.logger.Info().Str("fingerprint", result.Success.Fingerprint).Str("delivery_id", result.Success.DeliveryID).Msg("intake/kafka: delivered")
	case result.Queued != nil:
		in.logger.Debug().Str("fingerprint", result.Queued.Fingerprint).Msg("intake/kafka: deferred")
	case result.Failure != nil:
		in.logger.Warn().Str("fingerprint", result.Failure.Fingerprint).Str("last_error", result.Failure.LastError).Msg("intake/kafka: exhausted")
	}

	return nil
}
