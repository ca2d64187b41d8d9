// Package breaker implements the per-transport circuit breaker described in
// the send coordinator design: a three-state gate (closed/open/half-open)
// that short-circuits calls to a transport once it has failed consecutively
// past a configured threshold.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/example/sendcoord/internal/clock"
)

// ErrOpen is returned by Execute when the breaker refuses to invoke the
// wrapped operation. Callers distinguish this from an ordinary operation
// failure with errors.Is.
var ErrOpen = errors.New("breaker: open")

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config controls when a breaker trips and how long it stays open.
type Config struct {
	// Threshold is the number of consecutive failures required to open the
	// breaker. Defaults to 5 when zero.
	Threshold int
	// Cooldown is how long the breaker stays open before allowing a single
	// probe through. Defaults to 60s when zero.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// Breaker guards a single transport. It is safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu           sync.Mutex
	state        State
	failures     int
	earliestNext time.Time
	probing      bool // true while a HALF_OPEN probe is in flight
}

// New constructs a breaker in the CLOSED state.
func New(cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Breaker{cfg: cfg.withDefaults(), clock: clk, state: Closed}
}

// Snapshot describes the breaker's externally observable state, matching the
// coordinator's Snapshot() per-transport shape.
type Snapshot struct {
	State        State
	FailureCount int
}

// Snapshot returns the breaker's current state and consecutive-failure
// counter without mutating anything.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, FailureCount: b.failures}
}

// Execute runs op if the breaker currently permits it, recording the
// outcome. It returns ErrOpen without invoking op when the breaker is open
// and the cooldown has not elapsed.
func (b *Breaker) Execute(op func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := op()
	b.record(err)
	return err
}

// allow reports whether a call may proceed, transitioning OPEN to HALF_OPEN
// once the cooldown has elapsed. HALF_OPEN admits exactly one in-flight
// probe; concurrent callers are rejected until that probe resolves.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.clock.Now().Before(b.earliestNext) {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = Closed
		b.earliestNext = time.Time{}
		b.probing = false
		return
	}

	b.failures++
	if b.failures < b.cfg.Threshold {
		// Below threshold: HALF_OPEN stays HALF_OPEN, CLOSED stays CLOSED.
		// Release the probe slot so the next call may try again.
		b.probing = false
		return
	}

	b.state = Open
	b.earliestNext = b.clock.Now().Add(b.cfg.Cooldown)
	b.probing = false
}
