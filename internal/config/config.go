// Package config loads runtime configuration for the send-coordinator
// binaries from the environment. The engine core (internal/coordinator)
// takes typed Go values directly and has no dependency on this package;
// only the cmd/ drivers wire config.Load's output into coordinator.Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for a send-coordinator binary.
type Config struct {
	App    AppConfig
	Engine EngineConfig
	Kafka  KafkaConfig
}

// AppConfig contains generic application-level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// EngineConfig mirrors coordinator.Config's tunables in env-loadable form.
type EngineConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	BreakerThreshold int
	BreakerCooldown time.Duration
	DrainInterval   time.Duration
	MaxInFlight     int
	MaxBodyBytes    int
}

// KafkaConfig wires the optional Kafka intake front door and event sink.
type KafkaConfig struct {
	Brokers          []string
	IntakeTopic      string
	IntakeGroup      string
	EventSinkTopic   string
	EnableIntake     bool
	EnableEventSink  bool
}

// Load reads environment variables (after loading a .env file if present),
// applies defaults and returns a populated Config. It never requires Kafka
// settings unless EnableIntake or EnableEventSink is set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Engine.MaxRetries = ldr.getInt("ENGINE_MAX_RETRIES", 3, false)
	cfg.Engine.BaseDelay = ldr.getDuration("ENGINE_BASE_DELAY", time.Second, false)
	cfg.Engine.MaxDelay = ldr.getDuration("ENGINE_MAX_DELAY", 30*time.Second, false)
	cfg.Engine.RateLimitMax = ldr.getInt("ENGINE_RATE_LIMIT_MAX", 100, false)
	cfg.Engine.RateLimitWindow = ldr.getDuration("ENGINE_RATE_LIMIT_WINDOW", 60*time.Second, false)
	cfg.Engine.BreakerThreshold = ldr.getInt("ENGINE_BREAKER_THRESHOLD", 5, false)
	cfg.Engine.BreakerCooldown = ldr.getDuration("ENGINE_BREAKER_COOLDOWN", 60*time.Second, false)
	cfg.Engine.DrainInterval = ldr.getDuration("ENGINE_DRAIN_INTERVAL", time.Second, false)
	cfg.Engine.MaxInFlight = ldr.getInt("ENGINE_MAX_IN_FLIGHT", 64, false)
	cfg.Engine.MaxBodyBytes = ldr.getInt("ENGINE_MAX_BODY_BYTES", 0, false)

	cfg.Kafka.EnableIntake = ldr.getBool("KAFKA_ENABLE_INTAKE", false, false)
	cfg.Kafka.EnableEventSink = ldr.getBool("KAFKA_ENABLE_EVENT_SINK", false, false)
	needKafka := cfg.Kafka.EnableIntake || cfg.Kafka.EnableEventSink
	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", needKafka)
	cfg.Kafka.IntakeTopic = ldr.getString("KAFKA_INTAKE_TOPIC", "", cfg.Kafka.EnableIntake)
	cfg.Kafka.IntakeGroup = ldr.getString("KAFKA_INTAKE_GROUP", "send-coordinator", false)
	cfg.Kafka.EventSinkTopic = ldr.getString("KAFKA_EVENT_SINK_TOPIC", "", cfg.Kafka.EnableEventSink)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid boolean", key))
			return def
		}
		return parsed
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getDuration(key string, def time.Duration, required bool) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid duration (e.g. \"30s\")", key))
			return def
		}
		return d
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
