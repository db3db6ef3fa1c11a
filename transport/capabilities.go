package transport

// Capabilities describes the features a driver supports. Workers and the CLI
// use it to explain what a connection can do at runtime.
type Capabilities struct {
	// SupportsAck indicates the driver acknowledges messages explicitly.
	SupportsAck bool

	// SupportsRequeue indicates Nack(requeue=true) leads to redelivery.
	SupportsRequeue bool

	// SupportsTopicBinding indicates the connection implements TopicBinder
	// and filters deliveries broker-side by routing-key pattern.
	SupportsTopicBinding bool

	// SupportsConsumerGroups indicates several workers can share one cursor.
	SupportsConsumerGroups bool

	// SupportsOrdering indicates messages within one connection arrive in
	// publish order.
	SupportsOrdering bool

	// Persistent indicates published messages survive a broker restart.
	Persistent bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the driver.
	Name string
}

// SupportsReliableDelivery returns true if the driver supports at-least-once
// delivery semantics (ack + requeue).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsRequeue
}

// RequiresClientFiltering returns true if the worker must skip messages from
// other topics itself because the broker cannot filter by pattern.
func (c Capabilities) RequiresClientFiltering() bool {
	return !c.SupportsTopicBinding
}

// Predefined capability sets for the built-in drivers.
var (
	// RabbitMQCapabilities for the exchange-backed driver.
	RabbitMQCapabilities = Capabilities{
		Name:                 "rabbitmq",
		SupportsAck:          true,
		SupportsRequeue:      true,
		SupportsTopicBinding: true,
		SupportsOrdering:     true,
		Persistent:           true,
	}

	// RedisCapabilities for the consumer-group stream driver. Requeue leaves
	// the entry pending until it is claimed again.
	RedisCapabilities = Capabilities{
		Name:                   "redis",
		SupportsAck:            true,
		SupportsRequeue:        true,
		SupportsConsumerGroups: true,
		SupportsOrdering:       true,
		Persistent:             true,
		MaxMessageSize:         512 * 1024 * 1024,
	}

	// NATSJetStreamCapabilities for the native JetStream pull-consumer driver.
	NATSJetStreamCapabilities = Capabilities{
		Name:                   "nats-jetstream",
		SupportsAck:            true,
		SupportsRequeue:        true,
		SupportsTopicBinding:   true,
		SupportsConsumerGroups: true,
		SupportsOrdering:       true,
		Persistent:             true,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// FakeCapabilities for the in-memory publish recorder.
	FakeCapabilities = Capabilities{
		Name: "fake",
	}

	// ChannelCapabilities for the in-memory Go channel driver.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsRequeue:  true,
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsAck:            true,
		SupportsRequeue:        true,
		SupportsConsumerGroups: true,
		SupportsOrdering:       true,
		Persistent:             true,
		MaxMessageSize:         1048576,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // Default 1MB
	}

	// AWSCapabilities for SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsAck:            true,
		SupportsRequeue:        true,
		SupportsConsumerGroups: true,
		Persistent:             true,
		MaxMessageSize:         262144, // 256KB
	}

	// HTTPCapabilities for the HTTP push driver.
	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
