package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
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
	assert.Equal(t, "http", caps.Name)
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	var marshal func(string, *message.Message) error
	var gotAddr string
	PublisherFactory = func(cfg watermillhttp.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = func(topic string, msg *message.Message) error {
			req, err := cfg.MarshalMessageFunc(topic, msg)
			if err != nil {
				return err
			}
			if req.URL.String() != "http://hooks.local/events/herald-events" {
				return errors.New("unexpected url " + req.URL.String())
			}
			return nil
		}
		return pubSub, nil
	}
	SubscriberFactory = func(addr string, _ watermillhttp.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		gotAddr = addr
		return pubSub, nil
	}

	conn, err := Build(context.Background(), &config.ConnectionConfig{
		Driver:            config.DriverHTTP,
		HTTPServerAddress: ":8099",
		HTTPPublisherURL:  "http://hooks.local/events/",
	}, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, ":8099", gotAddr)
	require.NotNil(t, marshal)
	assert.NoError(t, marshal(transport.DefaultTopic, message.NewMessage("1", []byte(`{}`))))
}

func TestBuildSubscriberError(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})

	PublisherFactory = func(watermillhttp.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), nil
	}
	SubscriberFactory = func(string, watermillhttp.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("address in use")
	}

	_, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverHTTP}, nil)
	assert.ErrorContains(t, err, "address in use")
}
