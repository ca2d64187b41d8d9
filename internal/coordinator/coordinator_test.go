package coordinator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/sendcoord/internal/breaker"
	"github.com/example/sendcoord/internal/clock"
	"github.com/example/sendcoord/internal/coordinator"
	"github.com/example/sendcoord/internal/events"
	"github.com/example/sendcoord/internal/queue"
	"github.com/example/sendcoord/internal/ratelimit"
	"github.com/example/sendcoord/internal/transport"
)

// scriptedTransport returns a fixed sequence of outcomes, one per Attempt
// call; once exhausted it repeats the last outcome. Grounded on the
// teacher's mock provider fixtures, generalized to a scripted sequence so
// tests can pin exactly which attempt succeeds.
type scriptedTransport struct {
	name string

	mu      sync.Mutex
	calls   int
	outcome []func() (transport.Result, error)
}

func newScripted(name string, outcomes ...func() (transport.Result, error)) *scriptedTransport {
	return &scriptedTransport{name: name, outcome: outcomes}
}

func (s *scriptedTransport) Name() string { return s.name }

func (s *scriptedTransport) Attempt(ctx context.Context, msg transport.Message) (transport.Result, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.outcome) {
		idx = len(s.outcome) - 1
	}
	s.calls++
	fn := s.outcome[idx]
	s.mu.Unlock()
	return fn()
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok(id string) func() (transport.Result, error) {
	return func() (transport.Result, error) { return transport.Result{DeliveryID: id}, nil }
}

func fail() func() (transport.Result, error) {
	return func() (transport.Result, error) { return transport.Result{}, errors.New("transient") }
}

func testConfig(providers ...transport.Transport) coordinator.Config {
	return coordinator.Config{
		Providers: providers,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		RateLimit:  ratelimit.Config{MaxRequests: 1000, Window: time.Minute},
		Breaker:    breaker.Config{Threshold: 3, Cooldown: time.Second},
		Clock:      clock.Real(),
	}
}

func msg(destination string) coordinator.Message {
	return coordinator.Message{Destination: destination, Origin: "svc", Subject: "hi", Body: "body-" + destination}
}

// S1: happy path, first transport, first attempt.
func TestHappyPathFirstProviderFirstAttempt(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	c, err := coordinator.New(testConfig(primary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Submit(context.Background(), msg("a@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Success == nil || res.Success.DeliveryID != "d1" || res.Success.TotalAttempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if primary.callCount() != 1 {
		t.Fatalf("want 1 call, got %d", primary.callCount())
	}
}

// S2: fallback to the second provider after the first is exhausted.
func TestFallsBackToSecondProviderAfterExhaustion(t *testing.T) {
	primary := newScripted("primary", fail(), fail(), fail())
	secondary := newScripted("secondary", ok("d2"))
	c, err := coordinator.New(testConfig(primary, secondary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Submit(context.Background(), msg("b@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Success == nil || res.Success.Transport != "secondary" {
		t.Fatalf("expected success via secondary, got %+v", res)
	}
	if primary.callCount() != 3 {
		t.Fatalf("want 3 calls to primary (MaxRetries=2 => 3 attempts), got %d", primary.callCount())
	}

	if len(res.Attempts) != 4 {
		t.Fatalf("want 4 recorded attempts (3 on primary + 1 on secondary), got %d: %+v", len(res.Attempts), res.Attempts)
	}
	for i, rec := range res.Attempts[:3] {
		if rec.Transport != "primary" || rec.Ordinal != i+1 || rec.Outcome != coordinator.OutcomeTransientFailure {
			t.Fatalf("unexpected attempt record %d: %+v", i, rec)
		}
	}
	last := res.Attempts[3]
	if last.Transport != "secondary" || last.Ordinal != 1 || last.Outcome != coordinator.OutcomeSuccess {
		t.Fatalf("unexpected final attempt record: %+v", last)
	}
}

// S3: exhaustion of every provider yields a FailureResult.
func TestExhaustsAllProvidersAndFails(t *testing.T) {
	primary := newScripted("primary", fail(), fail(), fail())
	secondary := newScripted("secondary", fail(), fail(), fail())
	c, err := coordinator.New(testConfig(primary, secondary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Submit(context.Background(), msg("c@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure == nil {
		t.Fatalf("expected failure, got %+v", res)
	}

	st, ok := c.LookupStatus(coordinator.Fingerprint(msg("c@x.test")))
	if !ok || st.Kind != coordinator.StatusFailed {
		t.Fatalf("expected terminal failed status, got %+v (ok=%v)", st, ok)
	}
}

// S4: an idempotent replay after success returns the cached result without
// invoking any transport again.
func TestIdempotentReplayReturnsCachedResult(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	c, err := coordinator.New(testConfig(primary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := msg("d@x.test")
	first, err := c.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	second, err := c.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit (replay): %v", err)
	}

	if second.Success == nil || second.Success.DeliveryID != first.Success.DeliveryID {
		t.Fatalf("replay diverged: first=%+v second=%+v", first.Success, second.Success)
	}
	if primary.callCount() != 1 {
		t.Fatalf("replay should not re-invoke transport, got %d calls", primary.callCount())
	}
}

// S5: once the rate limiter is saturated, submissions are deferred to the
// queue instead of dispatched inline.
func TestSaturatedLimiterDefersToQueue(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	cfg := testConfig(primary)
	cfg.RateLimit = ratelimit.Config{MaxRequests: 1, Window: time.Minute}
	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := c.Submit(context.Background(), msg("e1@x.test"))
	if err != nil || first.Success == nil {
		t.Fatalf("first submit should succeed inline: %+v, err=%v", first, err)
	}

	second, err := c.Submit(context.Background(), msg("e2@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if second.Queued == nil {
		t.Fatalf("expected the second submission to be queued, got %+v", second)
	}

	st, ok := c.LookupStatus(second.Queued.Fingerprint)
	if !ok || st.Kind != coordinator.StatusQueued {
		t.Fatalf("expected queued status, got %+v (ok=%v)", st, ok)
	}
}

// S6: a tripped breaker on the sole provider fails the submission without
// exhausting the full retry budget of transient failures.
func TestBreakerTripShortCircuitsRemainingAttempts(t *testing.T) {
	primary := newScripted("primary", fail(), fail(), fail())
	cfg := testConfig(primary)
	cfg.Breaker = breaker.Config{Threshold: 2, Cooldown: time.Minute}
	cfg.MaxRetries = 5
	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Submit(context.Background(), msg("f@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Failure == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	// Breaker trips after 2 consecutive failures; the loop must not run all
	// 6 configured attempts.
	if primary.callCount() != 2 {
		t.Fatalf("want exactly 2 calls before the breaker opens, got %d", primary.callCount())
	}

	snap := c.Snapshot()
	if len(snap.Providers) != 1 || snap.Providers[0].BreakerState != breaker.Open {
		t.Fatalf("expected primary breaker open in snapshot, got %+v", snap.Providers)
	}

	if len(res.Attempts) != 3 {
		t.Fatalf("want 2 transient failures + 1 breaker-open record, got %d: %+v", len(res.Attempts), res.Attempts)
	}
	if res.Attempts[0].Outcome != coordinator.OutcomeTransientFailure || res.Attempts[1].Outcome != coordinator.OutcomeTransientFailure {
		t.Fatalf("want the first two attempts to be transient failures, got %+v", res.Attempts[:2])
	}
	if res.Attempts[2].Outcome != coordinator.OutcomeBreakerOpen {
		t.Fatalf("want the third attempt to record breaker-open, got %+v", res.Attempts[2])
	}
}

// Bounded attempts: with the breaker threshold out of reach, a failing
// transport is invoked exactly MaxRetries+1 times and then the coordinator
// gives up rather than retrying unboundedly.
func TestRetriesAreBoundedByMaxRetries(t *testing.T) {
	primary := newScripted("primary", fail(), fail(), fail(), fail(), fail(), fail(), fail(), fail(), fail(), fail())
	cfg := testConfig(primary)
	cfg.MaxRetries = 3
	cfg.Breaker = breaker.Config{Threshold: 100, Cooldown: time.Minute}
	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Submit(context.Background(), msg("g@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if primary.callCount() != 4 {
		t.Fatalf("want MaxRetries+1=4 attempts, got %d", primary.callCount())
	}
}

// Terminal status: once a submission resolves successfully, the recorded
// status for its fingerprint is the terminal sent kind.
func TestStatusReachesExactlyOneTerminalKind(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	c, err := coordinator.New(testConfig(primary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := msg("h@x.test")
	if _, err := c.Submit(context.Background(), m); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st, ok := c.LookupStatus(coordinator.Fingerprint(m))
	if !ok {
		t.Fatal("expected a recorded status")
	}
	if st.Kind != coordinator.StatusSent {
		t.Fatalf("want sent, got %v", st.Kind)
	}
}

// Event cardinality: exactly one terminal event fires per submission.
func TestExactlyOneTerminalEventPerSubmission(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	c, err := coordinator.New(testConfig(primary))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	sentCount := 0
	c.Subscribe(events.Sent, func(events.Event) {
		mu.Lock()
		sentCount++
		mu.Unlock()
	})

	if _, err := c.Submit(context.Background(), msg("i@x.test")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sentCount != 1 {
		t.Fatalf("want exactly 1 sent event, got %d", sentCount)
	}
}

// Rejects oversized bodies before fingerprinting or dispatch when
// MaxBodyBytes is configured.
func TestRejectsOversizedBodyBeforeDispatch(t *testing.T) {
	primary := newScripted("primary", ok("d1"))
	cfg := testConfig(primary)
	cfg.MaxBodyBytes = 4
	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Submit(context.Background(), msg("j@x.test"))
	if err == nil {
		t.Fatal("expected an error for an oversized body")
	}
	if !strings.Contains(err.Error(), "exceeds maximum size") {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.callCount() != 0 {
		t.Fatalf("transport should never be invoked for a rejected message, got %d calls", primary.callCount())
	}
}

func TestNewRejectsEmptyProviderList(t *testing.T) {
	if _, err := coordinator.New(coordinator.Config{}); err == nil {
		t.Fatal("expected an error when no providers are configured")
	}
}

func TestNewRejectsDuplicateProviderNames(t *testing.T) {
	a := newScripted("dup", ok("d1"))
	b := newScripted("dup", ok("d2"))
	if _, err := coordinator.New(testConfig(a, b)); err == nil {
		t.Fatal("expected an error for duplicate provider names")
	}
}

// The drain worker resolves queued entries without re-entering the
// admission front door (which would double count against the limiter).
func TestDrainWorkerResolvesQueuedEntries(t *testing.T) {
	primary := newScripted("primary", ok("d1"), ok("d2"))
	mc := clock.NewManual(time.Unix(0, 0))
	cfg := testConfig(primary)
	cfg.RateLimit = ratelimit.Config{MaxRequests: 1, Window: 10 * time.Millisecond}
	cfg.Drain = queue.Config{Interval: time.Second}
	cfg.Clock = mc
	c, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Shutdown()

	if _, err := c.Submit(context.Background(), msg("k1@x.test")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := c.Submit(context.Background(), msg("k2@x.test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if second.Queued == nil {
		t.Fatalf("expected the second submission to be queued, got %+v", second)
	}

	mc.Advance(time.Second)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.LookupStatus(second.Queued.Fingerprint); ok {
			st, _ := c.LookupStatus(second.Queued.Fingerprint)
			if st.Kind == coordinator.StatusSent {
				return
			}
		}
		mc.Advance(time.Second)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("queued entry was never resolved by the drain worker")
}
