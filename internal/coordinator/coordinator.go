// Package coordinator implements the send-coordination engine: the state
// machine that moves a message through admission control, provider
// selection, retry/backoff, fallback, circuit-breaker gating, queueing,
// idempotent result caching, and status/metric exposure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/sendcoord/internal/breaker"
	"github.com/example/sendcoord/internal/clock"
	"github.com/example/sendcoord/internal/events"
	"github.com/example/sendcoord/internal/queue"
	"github.com/example/sendcoord/internal/ratelimit"
	"github.com/example/sendcoord/internal/registry"
	"github.com/example/sendcoord/internal/transport"
)

// ErrShutdown is the error description attached to a FailureResult produced
// because the coordinator was shut down while a submission was in flight.
var ErrShutdown = errors.New("coordinator: shut down while submission was in flight")

// Config enumerates the coordinator's configuration options, per the
// design's "Engine configuration".
type Config struct {
	// Providers is the ordered list of transports; fallback order matches
	// list order.
	Providers []transport.Transport

	// MaxRetries is the number of retries per transport after the first
	// attempt (total attempts per transport = MaxRetries + 1). Zero means a
	// single attempt per transport; negative values are treated as zero.
	// config.Load defaults it to 3.
	MaxRetries int
	// BaseDelay is the backoff base. Default 1s.
	BaseDelay time.Duration
	// MaxDelay bounds any single backoff. Default 30s.
	MaxDelay time.Duration

	RateLimit ratelimit.Config
	Breaker   breaker.Config
	Drain     queue.Config

	// MaxInFlight bounds concurrent dispatch loops (transport attempts plus
	// their backoff sleeps) system-wide. Default 64.
	MaxInFlight int

	// MaxBodyBytes, when positive, rejects oversized messages synchronously
	// before fingerprinting instead of attempting delivery.
	MaxBodyBytes int

	// HandlerTimeout bounds how long a single event subscriber may run
	// before Publish moves on. Default 0 (no bound).
	HandlerTimeout time.Duration

	Logger zerolog.Logger
	Clock  clock.Clock

	// backoffSeed lets tests pin the jitter RNG; zero uses wall-clock time.
	backoffSeed int64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.backoffSeed == 0 {
		c.backoffSeed = time.Now().UnixNano()
	}
	return c
}

// Coordinator is the top-level orchestrator described in the design: it
// sequences fingerprinting, admission, dispatch with retry and fallback,
// state updates, and event emission. It is safe for concurrent use.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger
	clock  clock.Clock

	order     []string
	providers map[string]transport.Transport
	breakers  map[string]*breaker.Breaker

	limiter    *ratelimit.Limiter
	queue      *queue.Queue
	drainer    *queue.Drainer
	registry   *registry.Registry
	dispatcher *events.Dispatcher
	backoff    *backoffCalculator

	sem *semaphore.Weighted

	cancelDrain context.CancelFunc
}

// New constructs a Coordinator from cfg. At least one provider must be
// configured and providers must have unique, non-empty names; a negative
// MaxRetries is treated as zero.
func New(cfg Config) (*Coordinator, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("coordinator: at least one provider is required")
	}

	cfg = cfg.withDefaults()

	logger := cfg.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "coordinator").Logger()

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	order := make([]string, 0, len(cfg.Providers))
	providers := make(map[string]transport.Transport, len(cfg.Providers))
	breakers := make(map[string]*breaker.Breaker, len(cfg.Providers))
	for _, p := range cfg.Providers {
		name := p.Name()
		if name == "" {
			return nil, errors.New("coordinator: provider name must not be empty")
		}
		if _, exists := providers[name]; exists {
			return nil, fmt.Errorf("coordinator: duplicate provider name %q", name)
		}
		order = append(order, name)
		providers[name] = p
		breakers[name] = breaker.New(cfg.Breaker, clk)
	}

	c := &Coordinator{
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		order:      order,
		providers:  providers,
		breakers:   breakers,
		limiter:    ratelimit.New(cfg.RateLimit, clk),
		queue:      queue.New(),
		registry:   registry.New(),
		dispatcher: events.New(cfg.HandlerTimeout),
		backoff:    newBackoffCalculator(cfg.BaseDelay, cfg.MaxDelay, cfg.backoffSeed),
		sem:        semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}

	c.drainer = queue.NewDrainer(cfg.Drain, clk, c.queue, c.limiter, c.handleDeferred)

	return c, nil
}

// Subscribe registers a handler for the named event kind. See
// internal/events for semantics.
func (c *Coordinator) Subscribe(kind events.Kind, handler events.Handler) events.Subscription {
	return c.dispatcher.Subscribe(kind, handler)
}

// Unsubscribe removes a previously registered handler.
func (c *Coordinator) Unsubscribe(sub events.Subscription) {
	c.dispatcher.Unsubscribe(sub)
}

// Start launches the background drain worker. It must be called at most
// once; callers should arrange for ctx to be cancelled (or call Shutdown)
// to stop it.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelDrain = cancel
	go c.drainer.Run(ctx)
}

// Shutdown stops the drain worker and waits for it to exit.
func (c *Coordinator) Shutdown() {
	if c.cancelDrain != nil {
		c.cancelDrain()
	}
	c.drainer.Stop()
}

// LookupStatus returns the current status for a fingerprint, if one has
// ever been recorded.
func (c *Coordinator) LookupStatus(fingerprint string) (Status, bool) {
	return c.registry.Status(fingerprint)
}

// Submit fingerprints msg, returns a cached SuccessResult on an idempotent
// replay, defers to the queue on rate-limit denial, or dispatches through
// the configured providers with retry and fallback.
func (c *Coordinator) Submit(ctx context.Context, msg Message) (Result, error) {
	if c.cfg.MaxBodyBytes > 0 && len(msg.Body) > c.cfg.MaxBodyBytes {
		return Result{}, fmt.Errorf("coordinator: message body exceeds maximum size: got %d bytes, limit %d bytes", len(msg.Body), c.cfg.MaxBodyBytes)
	}

	fp := Fingerprint(msg)

	if cached, ok := c.registry.SuccessFor(fp); ok {
		return Result{Success: toSuccessResult(cached)}, nil
	}

	if !c.limiter.Admit() {
		c.registry.SetStatus(fp, registry.Status{Kind: registry.Queued, Attempts: 0, LastTimestamp: c.clock.Now().UnixNano()})
		c.queue.Push(queue.Entry{Fingerprint: fp, Message: msg})
		c.dispatcher.Publish(events.Event{Kind: events.Queued, Fingerprint: fp, Payload: msg})
		return Result{Queued: &QueuedResult{Fingerprint: fp}}, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("coordinator: %w: %v", ErrShutdown, err)
	}
	defer c.sem.Release(1)

	return c.dispatch(ctx, msg, fp), nil
}

// handleDeferred is invoked by the drain worker for entries the limiter has
// already admitted. It must not re-enter Submit (that would double-admit
// against the limiter).
func (c *Coordinator) handleDeferred(e queue.Entry) {
	msg, ok := e.Message.(Message)
	if !ok {
		c.logger.Error().Str("fingerprint", e.Fingerprint).Msg("coordinator: deferred entry carried an unexpected message type")
		return
	}

	ctx := context.Background()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	c.dispatch(ctx, msg, e.Fingerprint)
}

// dispatch runs the per-provider retry/fallback loop (design §4.1 step 5-6)
// for a message that has already been admitted, whether via Submit's front
// door or the drain worker's internal path.
func (c *Coordinator) dispatch(ctx context.Context, msg Message, fp string) Result {
	lastErr := ""
	var attempts []AttemptRecord

	for _, name := range c.order {
		tr := c.providers[name]
		br := c.breakers[name]

		for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
			kind := registry.Pending
			if attempt > 0 {
				kind = registry.Retrying
			}
			c.registry.SetStatus(fp, registry.Status{
				Kind:             kind,
				Attempts:         attempt + 1,
				CurrentTransport: name,
				LastTimestamp:    c.clock.Now().UnixNano(),
			})

			var result transport.Result
			attemptErr := br.Execute(func() error {
				r, err := tr.Attempt(ctx, transport.Message{
					Destination: msg.Destination,
					Origin:      msg.Origin,
					Subject:     msg.Subject,
					Body:        msg.Body,
				})
				result = r
				return err
			})

			now := c.clock.Now()

			if attemptErr == nil {
				attempts = append(attempts, AttemptRecord{Transport: name, Ordinal: attempt + 1, Outcome: OutcomeSuccess, Timestamp: now})
				return c.succeed(fp, name, attempt+1, result, attempts)
			}

			if errors.Is(attemptErr, breaker.ErrOpen) {
				attempts = append(attempts, AttemptRecord{Transport: name, Ordinal: attempt + 1, Outcome: OutcomeBreakerOpen, Timestamp: now})
				c.logger.Debug().Str("fingerprint", fp).Str("transport", name).Msg("coordinator: breaker open, falling back")
				break
			}

			attempts = append(attempts, AttemptRecord{Transport: name, Ordinal: attempt + 1, Outcome: OutcomeTransientFailure, Timestamp: now})
			lastErr = attemptErr.Error()
			c.logger.Warn().Str("fingerprint", fp).Str("transport", name).Int("attempt", attempt+1).Err(attemptErr).Msg("coordinator: transport attempt failed")

			if attempt < c.cfg.MaxRetries {
				if !c.wait(ctx, c.backoff.delay(attempt)) {
					return c.fail(fp, fmt.Sprintf("%s: %v", ErrShutdown, ctx.Err()), attempts)
				}
			}
		}
	}

	if lastErr == "" {
		lastErr = "all transports unavailable"
	}
	return c.fail(fp, lastErr, attempts)
}

func (c *Coordinator) succeed(fp, transportName string, attemptCount int, res transport.Result, attempts []AttemptRecord) Result {
	ts := res.Timestamp
	if ts.IsZero() {
		ts = c.clock.Now()
	}
	sr := registry.SuccessResult{
		Fingerprint:   fp,
		DeliveryID:    res.DeliveryID,
		Transport:     transportName,
		CompletedAt:   ts.UnixNano(),
		TotalAttempts: attemptCount,
	}
	c.registry.PutSuccess(fp, sr)
	c.registry.SetStatus(fp, registry.Status{
		Kind:             registry.Sent,
		Attempts:         attemptCount,
		CurrentTransport: transportName,
		LastTimestamp:    ts.UnixNano(),
	})

	out := toSuccessResult(sr)
	c.dispatcher.Publish(events.Event{Kind: events.Sent, Fingerprint: fp, Payload: out})
	return Result{Success: out, Attempts: attempts}
}

func (c *Coordinator) fail(fp, lastErr string, attempts []AttemptRecord) Result {
	now := c.clock.Now()
	c.registry.SetStatus(fp, registry.Status{
		Kind:          registry.Failed,
		Attempts:      c.cfg.MaxRetries + 1,
		LastTimestamp: now.UnixNano(),
		LastError:     lastErr,
	})

	result := &FailureResult{Fingerprint: fp, LastError: lastErr}
	c.dispatcher.Publish(events.Event{Kind: events.Failed, Fingerprint: fp, Payload: result})
	return Result{Failure: result, Attempts: attempts}
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func toSuccessResult(sr registry.SuccessResult) *SuccessResult {
	return &SuccessResult{
		Fingerprint:   sr.Fingerprint,
		DeliveryID:    sr.DeliveryID,
		Transport:     sr.Transport,
		CompletedAt:   time.Unix(0, sr.CompletedAt),
		TotalAttempts: sr.TotalAttempts,
	}
}

// ProviderSnapshot summarizes a single transport's breaker state for
// Snapshot().
type ProviderSnapshot struct {
	Name         string
	BreakerState breaker.State
	FailureCount int
}

// Snapshot summarizes the coordinator's observed totals, per the design's
// "Observable statistics" shape.
type Snapshot struct {
	TotalObserved int
	Sent          int
	Failed        int
	Queued        int
	SuccessRate   string
	Providers     []ProviderSnapshot
}

// Snapshot computes and returns the current metrics snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	counts := c.registry.Counts()

	var rate float64
	if counts.Total > 0 {
		rate = float64(counts.Sent) / float64(counts.Total) * 100
	}

	providers := make([]ProviderSnapshot, 0, len(c.order))
	for _, name := range c.order {
		snap := c.breakers[name].Snapshot()
		providers = append(providers, ProviderSnapshot{
			Name:         name,
			BreakerState: snap.State,
			FailureCount: snap.FailureCount,
		})
	}

	return Snapshot{
		TotalObserved: counts.Total,
		Sent:          counts.Sent,
		Failed:        counts.Failed,
		Queued:        counts.Queued,
		SuccessRate:   fmt.Sprintf("%.2f%%", rate),
		Providers:     providers,
	}
}
