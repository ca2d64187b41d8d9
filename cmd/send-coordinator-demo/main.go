// Command send-coordinator-demo exercises the coordinator end-to-end
// against tunable mock transports, logging each submission's outcome and a
// final snapshot. It plays the role the teacher's cmd/adapter-provider-test
// smoke check plays for the adapter/provider pair, generalized to the
// coordinator's transport fallback and retry behaviour.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sendcoord/internal/breaker"
	"github.com/example/sendcoord/internal/config"
	"github.com/example/sendcoord/internal/coordinator"
	eventsinkkafka "github.com/example/sendcoord/internal/eventsink/kafka"
	intakekafka "github.com/example/sendcoord/internal/intake/kafka"
	"github.com/example/sendcoord/internal/kafka/consumer"
	"github.com/example/sendcoord/internal/kafka/producer"
	"github.com/example/sendcoord/internal/logger"
	"github.com/example/sendcoord/internal/queue"
	"github.com/example/sendcoord/internal/ratelimit"
	"github.com/example/sendcoord/internal/transport"
	"github.com/example/sendcoord/internal/transport/mock"
)

func main() {
	bootstrapLog := zerolog.New(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		bootstrapLog.Fatal().Err(err).Msg("failed to load config")
	}

	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		bootstrapLog.Fatal().Err(err).Msg("failed to initialise logger")
	}

	primary := mock.New("primary",
		mock.WithFailureRate(0.6),
		mock.WithLatency(5*time.Millisecond),
		mock.WithLogger(*log),
	)
	secondary := mock.New("secondary",
		mock.WithFailureRate(0.05),
		mock.WithLatency(5*time.Millisecond),
		mock.WithLogger(*log),
	)

	c, err := coordinator.New(coordinator.Config{
		Providers:    []transport.Transport{primary, secondary},
		MaxRetries:   cfg.Engine.MaxRetries,
		BaseDelay:    cfg.Engine.BaseDelay,
		MaxDelay:     cfg.Engine.MaxDelay,
		RateLimit:    ratelimit.Config{MaxRequests: cfg.Engine.RateLimitMax, Window: cfg.Engine.RateLimitWindow},
		Breaker:      breaker.Config{Threshold: cfg.Engine.BreakerThreshold, Cooldown: cfg.Engine.BreakerCooldown},
		Drain:        queue.Config{Interval: cfg.Engine.DrainInterval},
		MaxInFlight:  cfg.Engine.MaxInFlight,
		MaxBodyBytes: cfg.Engine.MaxBodyBytes,
		Logger:       *log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Shutdown()

	if cfg.Kafka.EnableEventSink {
		prod, err := producer.New(cfg.Kafka.Brokers, *log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct kafka producer")
		}
		defer prod.Close()

		sink, err := eventsinkkafka.New(prod, cfg.Kafka.EventSinkTopic, *log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct event sink")
		}
		sink.Attach(c)
		log.Info().Str("topic", cfg.Kafka.EventSinkTopic).Msg("event sink attached")
	}

	if cfg.Kafka.EnableIntake {
		cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.IntakeGroup, *log, true)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct kafka consumer")
		}
		defer cons.Close()

		in, err := intakekafka.New(c, *log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct intake")
		}

		go func() {
			if err := in.Run(ctx, intakekafka.Adapt(cons), []string{cfg.Kafka.IntakeTopic}); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("intake run exited")
			}
		}()
		log.Info().Str("topic", cfg.Kafka.IntakeTopic).Str("group", cfg.Kafka.IntakeGroup).Msg("intake started")
	}

	for i := 0; i < 20; i++ {
		msg := coordinator.Message{
			Destination: "recipient@example.test",
			Origin:      "send-coordinator-demo",
			Subject:     "smoke test",
			Body:        "demo message body",
		}
		res, err := c.Submit(context.Background(), msg)
		if err != nil {
			log.Error().Err(err).Msg("submit failed")
			continue
		}
		switch {
		case res.Success != nil:
			log.Info().Str("delivery_id", res.Success.DeliveryID).Str("transport", res.Success.Transport).Msg("delivered")
		case res.Queued != nil:
			log.Info().Str("fingerprint", res.Queued.Fingerprint).Msg("deferred")
		case res.Failure != nil:
			log.Warn().Str("last_error", res.Failure.LastError).Msg("exhausted all transports")
		}
	}

	snap := c.Snapshot()
	log.Info().
		Int("total_observed", snap.TotalObserved).
		Int("sent", snap.Sent).
		Int("failed", snap.Failed).
		Int("queued", snap.Queued).
		Str("success_rate", snap.SuccessRate).
		Msg("run complete")

	for _, p := range snap.Providers {
		log.Info().
			Str("provider", p.Name).
			Str("breaker_state", string(p.BreakerState)).
			Int("failure_count", p.FailureCount).
			Msg("provider snapshot")
	}
}
