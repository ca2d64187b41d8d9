// Package mock implements a reference Transport with tunable failure rate
// and latency, for use in tests and the example driver. It is not a
// production transport; the design explicitly scopes real transport
// implementations out of the engine core.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/sendcoord/internal/transport"
)

// Option customizes the mock transport at construction time.
type Option func(*Transport)

// WithFailureRate sets the probability (0..1) that an attempt fails
// transiently. Values are clamped to [0, 1].
func WithFailureRate(rate float64) Option {
	return func(t *Transport) {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		t.failureRate = rate
	}
}

// WithLatency sets a fixed simulated latency for every attempt.
func WithLatency(d time.Duration) Option {
	return func(t *Transport) {
		if d < 0 {
			d = 0
		}
		t.latency = d
	}
}

// WithRandomSeed swaps the RNG seed used to decide failures, for
// deterministic tests.
func WithRandomSeed(seed int64) Option {
	return func(t *Transport) {
		t.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		if !reflect.ValueOf(logger).IsZero() {
			t.logger = logger
		}
	}
}

// Transport is a reference transport whose behaviour is controlled by
// construction-time options, modeled on the mock SMTP provider pattern: a
// fixed failure rate/latency instead of a real network call. Failure rates
// strictly between 0 and 1 draw from an RNG seeded from the wall clock, so
// outcomes repeat across runs only when WithRandomSeed is supplied.
type Transport struct {
	name        string
	failureRate float64
	latency     time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New constructs a mock transport with the given stable name.
func New(name string, opts ...Option) *Transport {
	t := &Transport{
		name:   name,
		now:    time.Now,
		logger: zerolog.Nop(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Name returns the transport's stable identifier.
func (t *Transport) Name() string { return t.name }

// Attempt simulates a delivery attempt: it sleeps for the configured latency
// (respecting ctx cancellation) and then either succeeds or fails according
// to the configured failure rate.
func (t *Transport) Attempt(ctx context.Context, msg transport.Message) (transport.Result, error) {
	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return transport.Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	if t.shouldFail() {
		t.logger.Debug().
			Str("transport", t.name).
			Str("destination", msg.Destination).
			Msg("mock transport: simulated transient failure")
		return transport.Result{}, fmt.Errorf("mock transport %s: simulated transient failure", t.name)
	}

	id := t.nextID()
	t.logger.Debug().
		Str("transport", t.name).
		Str("destination", msg.Destination).
		Str("delivery_id", id).
		Msg("mock transport: delivered")
	return transport.Result{DeliveryID: id, Timestamp: t.now()}, nil
}

func (t *Transport) shouldFail() bool {
	if t.failureRate <= 0 {
		return false
	}
	if t.failureRate >= 1 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rnd.Float64() < t.failureRate
}

func (t *Transport) nextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uuid.New().String()
}
