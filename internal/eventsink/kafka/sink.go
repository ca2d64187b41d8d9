// Package kafka provides an external event-sink binding: it subscribes to
// the coordinator's event dispatcher and publishes sent/failed/queued
// events to Kafka as JSON, the way the teacher's kafka/publisher package
// publishes status and DLQ events to their own topics.
package kafka

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sendcoord/internal/coordinator"
	"github.com/example/sendcoord/internal/events"
)

// Producer captures the subset of producer behaviour the sink needs,
// matching the teacher's SyncProducer seam so tests can supply a stub
// instead of a live Sarama client.
type Producer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// envelope is the wire shape published for every event.
type envelope struct {
	Kind        string `json:"kind"`
	Fingerprint string `json:"fingerprint"`
	Payload     any    `json:"payload"`
}

// Sink publishes coordinator events to a single Kafka topic.
type Sink struct {
	producer Producer
	topic    string
	logger   zerolog.Logger
}

// New constructs a Sink. It does not subscribe itself; call Attach to wire
// it to a coordinator's dispatcher.
func New(producer Producer, topic string, logger zerolog.Logger) (*Sink, error) {
	if producer == nil {
		return nil, fmt.Errorf("eventsink/kafka: producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("eventsink/kafka: topic is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Sink{producer: producer, topic: topic, logger: logger}, nil
}

// Attach subscribes the sink to every kind the coordinator emits and
// returns the resulting subscriptions so the caller can unsubscribe later.
func (s *Sink) Attach(c *coordinator.Coordinator) []events.Subscription {
	kinds := []events.Kind{events.Sent, events.Failed, events.Queued}
	subs := make([]events.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, c.Subscribe(kind, s.publish))
	}
	return subs
}

func (s *Sink) publish(evt events.Event) {
	env := envelope{Kind: string(evt.Kind), Fingerprint: evt.Fingerprint, Payload: evt.Payload}

	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Str("fingerprint", evt.Fingerprint).Msg("eventsink/kafka: marshal event")
		return
	}

	headers := map[string][]byte{"content-type": []byte("application/json")}
	if err := s.producer.PublishSync(s.topic, []byte(evt.Fingerprint), headers, payload); err != nil {
		s.logger.Error().Err(err).Str("fingerprint", evt.Fingerprint).Msg("eventsink/kafka: publish event")
	}
}
