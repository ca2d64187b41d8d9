// Package ratelimit implements the sliding-window-log admission gate the
// coordinator uses to bound the global send rate. A token-bucket limiter
// (golang.org/x/time/rate, used elsewhere for per-chat throttling) is
// deliberately not used here: the coordinator's rate-limit-ceiling property
// test pins the exact sliding-window semantics, which a token bucket does
// not reproduce.
package ratelimit

import (
	"sync"
	"time"

	"github.com/example/sendcoord/internal/clock"
)

// Config controls the window size and admission ceiling.
type Config struct {
	// MaxRequests is the number of admissions permitted per window.
	// Defaults to 100 when zero.
	MaxRequests int
	// Window is the rolling interval admissions are counted over.
	// Defaults to 60s when zero.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 100
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	return c
}

// Limiter is a sliding-window-log rate limiter, global across all callers.
// Admit and WaitHint serialize on the same mutex so a concurrent Admit and
// WaitHint never race into overshoot.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu     sync.Mutex
	ledger []time.Time
}

// New constructs a Limiter.
func New(cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{cfg: cfg.withDefaults(), clock: clk}
}

// Admit drops expired entries from the ledger and, if there is room left in
// the window, records an admission and returns true. Otherwise it returns
// false without mutating the ledger.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.evict(now)

	if len(l.ledger) >= l.cfg.MaxRequests {
		return false
	}

	l.ledger = append(l.ledger, now)
	return true
}

// WaitHint returns how long a caller should wait before the next admission
// is likely to succeed. It is advisory: concurrent admissions by other
// callers can invalidate the hint immediately after it's returned.
func (l *Limiter) WaitHint() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.evict(now)

	if len(l.ledger) == 0 {
		return 0
	}

	oldest := l.ledger[0]
	remaining := l.cfg.Window - now.Sub(oldest)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// evict removes ledger entries older than the window. Callers must hold l.mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	idx := 0
	for idx < len(l.ledger) && !l.ledger[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return
	}
	l.ledger = append(l.ledger[:0], l.ledger[idx:]...)
}
