// Package queue implements the deferred admission FIFO and its background
// drain worker. Submissions that are rate-denied land here; the drain
// worker re-attempts admission on a coarse cadence and hands admitted
// entries back to the coordinator's internal dispatch path, never through
// the admission front door (which would double-count against the limiter).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/example/sendcoord/internal/clock"
)

// Entry is one deferred admission: the coordinator's opaque message plus its
// precomputed fingerprint.
type Entry struct {
	Fingerprint string
	Message     any
}

// Queue is a FIFO of deferred entries. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push appends an entry to the tail.
func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// Pop removes and returns the head entry, if any.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Admitter is the subset of ratelimit.Limiter the drain worker needs.
type Admitter interface {
	Admit() bool
}

// Config controls the drain worker's wake cadence.
type Config struct {
	// Interval is how often the drain worker checks the queue when it's
	// empty or the limiter is denying. Defaults to 1s when zero, per the
	// design's "coarse ~1s wake interval".
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	return c
}

// Drainer runs the background loop described in the design: while the queue
// is non-empty, keep popping entries as long as the limiter admits them;
// once denied (or the queue empties), sleep until the next cadence tick.
type Drainer struct {
	cfg     Config
	clock   clock.Clock
	queue   *Queue
	limiter Admitter
	handle  func(Entry)

	stop chan struct{}
	done chan struct{}
}

// NewDrainer wires a queue, a rate limiter and the coordinator's internal
// dispatch callback into a background drain loop. handle is invoked once per
// admitted entry and must not itself call back through the admission front
// door.
func NewDrainer(cfg Config, clk clock.Clock, q *Queue, limiter Admitter, handle func(Entry)) *Drainer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Drainer{
		cfg:     cfg.withDefaults(),
		clock:   clk,
		queue:   q,
		limiter: limiter,
		handle:  handle,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called, draining the queue on
// each cadence tick. It should be launched in its own goroutine.
func (d *Drainer) Run(ctx context.Context) {
	defer close(d.done)

	for {
		d.drainPass()

		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-d.clock.After(d.cfg.Interval):
		}
	}
}

// drainPass pops and dispatches entries as long as the limiter admits them.
func (d *Drainer) drainPass() {
	for {
		if d.queue.Len() == 0 {
			return
		}
		if !d.limiter.Admit() {
			return
		}
		entry, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.handle(entry)
	}
}

// Stop signals the drain loop to exit and waits for it to do so.
func (d *Drainer) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}
