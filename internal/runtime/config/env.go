package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv builds a Config from HERALD_*, RABBITMQ_*, REDIS_*, NATS_* and
// KAFKA_* variables. Binaries load a .env file first (godotenv autoload), so
// local development needs no exported variables.
//
// A rabbitmq and a redis connection are always present; nats-jetstream and
// kafka connections are added when NATS_URL or KAFKA_BROKERS are set.
func FromEnv() *Config {
	return FromLookup(os.LookupEnv)
}

// FromLookup is FromEnv with an injectable variable source.
func FromLookup(lookup func(string) (string, bool)) *Config {
	env := envReader{lookup: lookup}

	appName := env.str("APP_NAME", "herald")
	pollTimeout := env.duration("HERALD_POLL_TIMEOUT", DefaultPollTimeout)

	cfg := &Config{
		DefaultConnection: env.str("HERALD_CONNECTION", DriverRabbitMQ),
		Connections: map[string]ConnectionConfig{
			DriverRabbitMQ: {
				Driver: DriverRabbitMQ,
				RabbitMQURL: env.str("RABBITMQ_URL", RabbitMQURL(
					env.str("RABBITMQ_HOST", "localhost"),
					env.str("RABBITMQ_PORT", "5672"),
					env.str("RABBITMQ_USER", "guest"),
					env.str("RABBITMQ_PASSWORD", "guest"),
					env.str("RABBITMQ_VHOST", "/"),
				)),
				Exchange:     env.str("RABBITMQ_EXCHANGE", DefaultExchange),
				ExchangeType: env.str("RABBITMQ_EXCHANGE_TYPE", DefaultExchangeType),
				Queue:        env.str("RABBITMQ_QUEUE", appName+"-queue"),
				QueueDurable: env.boolean("RABBITMQ_QUEUE_DURABLE", true),
				PollTimeout:  pollTimeout,
			},
			DriverRedis: {
				Driver:        DriverRedis,
				RedisAddr:     env.str("REDIS_ADDR", "localhost:6379"),
				RedisPassword: env.str("REDIS_PASSWORD", ""),
				RedisDB:       env.integer("REDIS_DB", 0),
				Stream:        env.str("REDIS_STREAM", DefaultExchange),
				ConsumerGroup: env.str("REDIS_CONSUMER_GROUP", appName),
				ConsumerName:  env.str("REDIS_CONSUMER_NAME", hostname(appName)),
				PollTimeout:   pollTimeout,
			},
		},
		IdleSleep:      env.duration("HERALD_IDLE_SLEEP", DefaultIdleSleep),
		ErrorBackoff:   env.duration("HERALD_ERROR_BACKOFF", DefaultErrorBackoff),
		MetricsEnabled: env.boolean("HERALD_METRICS_ENABLED", false),
		MetricsPort:    env.integer("HERALD_METRICS_PORT", 0),
		WebUIEnabled:   env.boolean("HERALD_WEBUI_ENABLED", false),
		WebUIPort:      env.integer("HERALD_WEBUI_PORT", DefaultWebUIPort),

		TemporalAddress:   env.str("TEMPORAL_ADDRESS", ""),
		TemporalNamespace: env.str("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: env.str("HERALD_TASK_QUEUE", DefaultTaskQueue),
	}

	if natsURL := env.str("NATS_URL", ""); natsURL != "" {
		cfg.Connections[DriverJetStream] = ConnectionConfig{
			Driver:        DriverJetStream,
			NATSURL:       natsURL,
			Stream:        env.str("NATS_STREAM", "HERALD"),
			ConsumerGroup: env.str("NATS_CONSUMER", appName),
			PollTimeout:   pollTimeout,
		}
	}
	if brokers := env.list("KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.Connections[DriverKafka] = ConnectionConfig{
			Driver:             DriverKafka,
			KafkaBrokers:       brokers,
			KafkaConsumerGroup: env.str("KAFKA_CONSUMER_GROUP", appName),
			Exchange:           env.str("KAFKA_TOPIC", DefaultExchange),
			PollTimeout:        pollTimeout,
		}
	}
	if origins := env.list("HERALD_WEBUI_CORS_ORIGINS"); len(origins) > 0 {
		cfg.WebUICORSAllowedOrigins = origins
	}

	return cfg
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	if v, err := strconv.Atoi(e.str(key, "")); err == nil {
		return v
	}
	return fallback
}

func (e envReader) boolean(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(e.str(key, "")); err == nil {
		return v
	}
	return fallback
}

// duration accepts Go durations ("250ms") or plain milliseconds ("250").
func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func (e envReader) list(key string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}
