package breaker_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/sendcoord/internal/breaker"
	"github.com/example/sendcoord/internal/clock"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Threshold: 3, Cooldown: 200 * time.Millisecond}, clk)

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errBoom })
		if !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: want errBoom, got %v", i, err)
		}
	}

	if snap := b.Snapshot(); snap.State != breaker.Open {
		t.Fatalf("want state Open after threshold, got %v", snap.State)
	}

	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("want ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not be invoked while breaker is open")
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Threshold: 2, Cooldown: 100 * time.Millisecond}, clk)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })
	if snap := b.Snapshot(); snap.State != breaker.Open {
		t.Fatalf("want Open, got %v", snap.State)
	}

	clk.Advance(100 * time.Millisecond)

	invoked := false
	err := b.Execute(func() error { invoked = true; return nil })
	if err != nil {
		t.Fatalf("probe should have succeeded: %v", err)
	}
	if !invoked {
		t.Fatal("probe must invoke the operation after cooldown")
	}
	if snap := b.Snapshot(); snap.State != breaker.Closed {
		t.Fatalf("successful probe should close breaker, got %v", snap.State)
	}
}

func TestHalfOpenReopensOnlyAtThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Threshold: 3, Cooldown: 50 * time.Millisecond}, clk)

	for i := 0; i < 3; i++ {
		b.Execute(func() error { return errBoom })
	}
	clk.Advance(50 * time.Millisecond)

	// First half-open probe fails but failures (4) is still >= threshold (3),
	// so per the documented source behaviour it re-opens immediately; verify
	// that a single post-cooldown failure reopens it (since failures never
	// reset below threshold on failure).
	err := b.Execute(func() error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("want errBoom, got %v", err)
	}
	if snap := b.Snapshot(); snap.State != breaker.Open {
		t.Fatalf("want Open after half-open probe failure past threshold, got %v", snap.State)
	}
}

func TestHalfOpenAdmitsOnlyOneConcurrentProbe(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Threshold: 2, Cooldown: 100 * time.Millisecond}, clk)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })
	clk.Advance(100 * time.Millisecond)

	const callers = 10
	var admitted int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			err := b.Execute(func() error {
				atomic.AddInt32(&admitted, 1)
				<-release
				return nil
			})
			if err != nil && !errors.Is(err, breaker.ErrOpen) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	// Give every goroutine a chance to reach allow() before the probe resolves.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&admitted); got != 1 {
		t.Fatalf("want exactly 1 admitted probe, got %d", got)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Threshold: 3, Cooldown: time.Second}, clk)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return nil })

	if snap := b.Snapshot(); snap.FailureCount != 0 || snap.State != breaker.Closed {
		t.Fatalf("want reset to closed/0, got %+v", snap)
	}
}
