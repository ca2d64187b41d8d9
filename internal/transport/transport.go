// Package transport defines the capability every downstream delivery
// provider must satisfy to be plugged into the coordinator, per the design's
// "Transport adapter capability": a single attempt-delivery operation that
// either succeeds with a transport-assigned identifier or fails with a
// transient error.
package transport

import (
	"context"
	"time"
)

// Message is the minimal view of an outbound message a transport needs to
// attempt delivery. It mirrors coordinator.Message without importing that
// package, keeping transports decoupled from the coordinator.
type Message struct {
	Destination string
	Origin      string
	Subject     string
	Body        string
}

// Result is returned by a successful delivery attempt.
type Result struct {
	DeliveryID string
	Timestamp  time.Time
}

// Transport is the capability required from every downstream provider. Name
// must be stable and unique across the configured set.
type Transport interface {
	Name() string
	Attempt(ctx context.Context, msg Message) (Result, error)
}
