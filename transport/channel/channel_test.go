package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildRoundTrip(t *testing.T) {
	conn, err := Build(context.Background(), &config.ConnectionConfig{
		Driver:      config.DriverChannel,
		PollTimeout: 200 * time.Millisecond,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	defer conn.Close()

	wm := conn.(*transport.WatermillConnection)
	assert.Equal(t, transport.DefaultTopic, wm.Topic())

	id, err := conn.Publish(context.Background(), "user.created", messages.NewPayload("user_id", 1), "")
	require.NoError(t, err)

	msg, err := conn.Consume(context.Background())
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "user.created", msg.Type)
	require.NoError(t, conn.Ack(context.Background(), msg))
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	t.Cleanup(func() { Factory = original })

	var got gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		pubSub := gochannel.NewGoChannel(cfg, logger)
		return pubSub, pubSub
	}

	conn, err := Build(context.Background(), &config.ConnectionConfig{Driver: config.DriverChannel, Exchange: "orders"}, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, got.Persistent)
	assert.Equal(t, "orders", conn.(*transport.WatermillConnection).Topic())
}
