// Package transport defines the broker connection contract used by Herald
// workers. Each driver (rabbitmq, redis, jetstream, kafka, ...) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/herald/internal/runtime/messages"
)

// ErrTimeout is returned (possibly wrapped) by Consume when the underlying
// client reports that its poll window elapsed. Workers treat it as routine.
var ErrTimeout = errors.New("herald: transport poll timed out")

// DefaultPollTimeout bounds a single Consume attempt when the connection
// config does not specify one.
const DefaultPollTimeout = time.Second

// Connection owns exactly one broker session. It is not safe to share a
// Connection between concurrently running worker loops.
type Connection interface {
	// Consume waits at most one poll window for a message. It returns
	// (nil, nil) when nothing arrived or when the delivered body was malformed
	// (malformed bodies are acknowledged and dropped by the connection).
	Consume(ctx context.Context) (*messages.Message, error)
	Ack(ctx context.Context, msg *messages.Message) error
	// Nack rejects msg. With requeue the broker may redeliver it later.
	Nack(ctx context.Context, msg *messages.Message, requeue bool) error
	// Publish sends an event. An empty id gets a generated one; the id used is
	// returned.
	Publish(ctx context.Context, eventType string, payload messages.Payload, id string) (string, error)
	Close() error
}

// TopicBinder is implemented by connections that must bind their queue to a
// routing-key pattern (for example "order.#" or "#") before consuming.
type TopicBinder interface {
	BindToTopic(ctx context.Context, pattern string) error
}

// CapabilitiesProvider is implemented by connections that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Builder is the function signature for creating a connection from config.
// Each driver package provides a Build function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connection, error)

// Config provides the values drivers need. It lets drivers read only what
// they use without depending on the full config package.
type Config interface {
	// GetDriver returns the registered driver name.
	GetDriver() string
	GetPollTimeout() time.Duration

	// RabbitMQ. Exchange doubles as the topic name for Watermill-backed drivers.
	GetRabbitMQURL() string
	GetExchange() string
	GetExchangeType() string
	GetQueue() string
	GetQueueDurable() bool

	// Redis streams and JetStream consumer groups.
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetStream() string
	GetConsumerGroup() string
	GetConsumerName() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// PollTimeout returns cfg's poll timeout or DefaultPollTimeout.
func PollTimeout(cfg Config) time.Duration {
	if cfg == nil || cfg.GetPollTimeout() <= 0 {
		return DefaultPollTimeout
	}
	return cfg.GetPollTimeout()
}

// DefaultTopic is the single Watermill topic used by drivers that have no
// native routing when the connection names no exchange.
const DefaultTopic = "herald-events"

// Topic returns cfg's exchange name or DefaultTopic.
func Topic(cfg Config) string {
	if cfg == nil || cfg.GetExchange() == "" {
		return DefaultTopic
	}
	return cfg.GetExchange()
}
