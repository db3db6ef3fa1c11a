package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func overrideFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestBuild(t *testing.T) {
	overrideFactories(t)

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	var gotPub kafka.PublisherConfig
	var gotSub kafka.SubscriberConfig
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		gotPub = cfg
		return pubSub, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		gotSub = cfg
		return pubSub, nil
	}

	conn, err := Build(context.Background(), &config.ConnectionConfig{
		Driver:             config.DriverKafka,
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "billing",
		Exchange:           "events",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{"localhost:9092"}, gotPub.Brokers)
	assert.Equal(t, []string{"localhost:9092"}, gotSub.Brokers)
	assert.Equal(t, "billing", gotSub.ConsumerGroup)
	assert.Equal(t, "events", conn.(*transport.WatermillConnection).Topic())
}

func TestBuildPublisherError(t *testing.T) {
	overrideFactories(t)
	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("no brokers")
	}

	_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverKafka}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "no brokers")
}

func TestBuildSubscriberError(t *testing.T) {
	overrideFactories(t)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pubSub, nil
	}
	SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("group rejected")
	}

	_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverKafka}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "group rejected")
}
