// Package fake provides an in-memory publish recorder for tests and dry runs.
// It never delivers anything to Consume; it only remembers what was published.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"

	idspkg "github.com/drblury/herald/internal/runtime/ids"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "fake"

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.FakeCapabilities)
}

// Build returns a fresh fake connection.
func Build(_ context.Context, _ transport.Config, _ watermill.LoggerAdapter) (transport.Connection, error) {
	return New(), nil
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.FakeCapabilities
}

// Connection records published messages in order.
type Connection struct {
	mu       sync.RWMutex
	messages []*messages.Message
}

// New creates an empty fake connection.
func New() *Connection {
	return &Connection{}
}

// Consume always reports that nothing is available.
func (c *Connection) Consume(context.Context) (*messages.Message, error) {
	return nil, nil
}

// Ack is a no-op.
func (c *Connection) Ack(context.Context, *messages.Message) error {
	return nil
}

// Nack is a no-op.
func (c *Connection) Nack(context.Context, *messages.Message, bool) error {
	return nil
}

// Publish appends the message to the log. An empty id gets a generated one.
func (c *Connection) Publish(_ context.Context, eventType string, payload messages.Payload, id string) (string, error) {
	if id == "" {
		id = idspkg.NewMessageID()
	}

	c.mu.Lock()
	c.messages = append(c.messages, messages.New(id, eventType, payload, nil))
	c.mu.Unlock()

	return id, nil
}

// Close is a no-op; the log stays readable.
func (c *Connection) Close() error {
	return nil
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Connection) Capabilities() transport.Capabilities {
	return transport.FakeCapabilities
}

// Messages returns a snapshot of everything published, oldest first.
func (c *Connection) Messages() []*messages.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*messages.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clear forgets every published message.
func (c *Connection) Clear() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// Published returns the messages of eventType that satisfy every filter.
func (c *Connection) Published(eventType string, filters ...func(*messages.Message) bool) []*messages.Message {
	var out []*messages.Message
	for _, msg := range c.Messages() {
		if msg.Type == eventType && matches(msg, filters) {
			out = append(out, msg)
		}
	}
	return out
}

// AssertPublished asserts that at least one message of eventType matching all
// filters was published.
func (c *Connection) AssertPublished(t assert.TestingT, eventType string, filters ...func(*messages.Message) bool) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if len(c.Published(eventType, filters...)) > 0 {
		return true
	}
	return assert.Fail(t, fmt.Sprintf("Failed asserting that a message of type [%s] was published.", eventType))
}

// AssertPublishedTimes asserts that exactly n messages of eventType were published.
func (c *Connection) AssertPublishedTimes(t assert.TestingT, eventType string, n int) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	actual := len(c.Published(eventType))
	return assert.Equal(t, n, actual,
		fmt.Sprintf("Expected message type [%s] to be published %d times, but it was published %d times.", eventType, n, actual))
}

// AssertNothingPublished asserts that the log is empty.
func (c *Connection) AssertNothingPublished(t assert.TestingT) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	count := len(c.Messages())
	return assert.Equal(t, 0, count,
		fmt.Sprintf("Expected no messages to be published, but %d messages were published.", count))
}

func matches(msg *messages.Message, filters []func(*messages.Message) bool) bool {
	for _, filter := range filters {
		if filter != nil && !filter(msg) {
			return false
		}
	}
	return true
}
