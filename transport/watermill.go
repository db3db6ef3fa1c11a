package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/messages"
)

// MetadataEventType carries the event type next to the JSON envelope so
// Watermill middlewares and tooling can route without decoding the body.
const MetadataEventType = "herald_type"

// WatermillConnection adapts a Watermill publisher/subscriber pair to the
// Connection contract. Every event is published to a single Watermill topic;
// the worker filters by event type.
type WatermillConnection struct {
	publisher   message.Publisher
	subscriber  message.Subscriber
	topic       string
	pollTimeout time.Duration
	logger      watermill.LoggerAdapter

	mu       sync.Mutex
	messages <-chan *message.Message
	cancel   context.CancelFunc
	closed   bool
}

// NewWatermillConnection subscribes to topic and returns a connection that
// publishes to and consumes from it. The subscription lives until Close.
func NewWatermillConnection(ctx context.Context, pub message.Publisher, sub message.Subscriber, topic string, pollTimeout time.Duration, logger watermill.LoggerAdapter) (*WatermillConnection, error) {
	if pub == nil || sub == nil {
		return nil, errspkg.ErrConnectionRequired
	}
	if topic == "" {
		return nil, errors.New("herald: watermill topic is required")
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	return &WatermillConnection{
		publisher:   pub,
		subscriber:  sub,
		topic:       topic,
		pollTimeout: pollTimeout,
		logger:      logger.With(watermill.LogFields{"topic": topic}),
		messages:    msgs,
		cancel:      cancel,
	}, nil
}

// Consume waits up to the poll timeout for the next Watermill message.
func (c *WatermillConnection) Consume(ctx context.Context) (*messages.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errspkg.ErrConnectionClosed
	}
	msgs := c.messages
	c.mu.Unlock()

	timer := time.NewTimer(c.pollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, nil
	case <-timer.C:
		return nil, nil
	case wm, ok := <-msgs:
		if !ok {
			return nil, errspkg.ErrConnectionClosed
		}
		msg, err := messages.Decode(wm.Payload, wm.UUID, wm)
		if err != nil {
			c.logger.Info("Dropping malformed message", watermill.LogFields{"message_uuid": wm.UUID, "error": err.Error()})
			wm.Ack()
			return nil, nil
		}
		return msg, nil
	}
}

// Ack acknowledges the underlying Watermill message.
func (c *WatermillConnection) Ack(_ context.Context, msg *messages.Message) error {
	if wm, ok := rawWatermill(msg); ok {
		wm.Ack()
	}
	return nil
}

// Nack asks Watermill to redeliver when requeue is set; otherwise the message
// is acknowledged so the subscriber drops it.
func (c *WatermillConnection) Nack(_ context.Context, msg *messages.Message, requeue bool) error {
	wm, ok := rawWatermill(msg)
	if !ok {
		return nil
	}
	if requeue {
		wm.Nack()
	} else {
		wm.Ack()
	}
	return nil
}

// Publish encodes the envelope and publishes it to the connection's topic.
func (c *WatermillConnection) Publish(ctx context.Context, eventType string, payload messages.Payload, id string) (string, error) {
	body, id, err := messages.Encode(id, eventType, payload)
	if err != nil {
		return "", err
	}

	wm := message.NewMessage(id, body)
	wm.Metadata.Set(MetadataEventType, eventType)
	wm.SetContext(ctx)

	if err := c.publisher.Publish(c.topic, wm); err != nil {
		return "", err
	}
	return id, nil
}

// Close stops the subscription and closes the publisher and subscriber.
func (c *WatermillConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	errs := []error{c.subscriber.Close()}
	if any(c.publisher) != any(c.subscriber) {
		errs = append(errs, c.publisher.Close())
	}
	return errors.Join(errs...)
}

// Topic returns the Watermill topic the connection is bound to.
func (c *WatermillConnection) Topic() string {
	return c.topic
}

func rawWatermill(msg *messages.Message) (*message.Message, bool) {
	if msg == nil {
		return nil, false
	}
	wm, ok := msg.Raw.(*message.Message)
	return wm, ok
}
