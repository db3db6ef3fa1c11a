// Package jetstream provides a NATS JetStream pull-consumer connection for
// Herald.
//
// Every event is published to the subject "<stream>.<type>". Workers share a
// durable pull consumer per topic, so a message is delivered to one worker at
// a time and redelivered after Nak or AckWait expiry.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when the connection names no stream.
	DefaultStreamName = "HERALD"

	// DefaultConsumerName is used when the connection names no consumer group.
	DefaultConsumerName = "herald"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 5

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second
)

// Dial connects to NATS and returns a Client. Overridable for testing.
var Dial = func(url string) (Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &natsClient{nc: nc, js: js}, nil
}

func init() {
	Register()
}

// Register registers the JetStream driver with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Build dials NATS and ensures the stream exists.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	client, err := Dial(cfg.GetNATSURL())
	if err != nil {
		return nil, err
	}
	conn, err := New(ctx, client, Config{
		StreamName:   cfg.GetStream(),
		ConsumerName: cfg.GetConsumerGroup(),
		PollTimeout:  transport.PollTimeout(cfg),
	}, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return conn, nil
}

// Client is the subset of a NATS JetStream session the connection uses.
type Client interface {
	EnsureStream(cfg *nats.StreamConfig) error
	EnsureConsumer(stream string, cfg *nats.ConsumerConfig) error
	PullSubscribe(stream, subject, durable string) (Puller, error)
	Publish(ctx context.Context, msg *nats.Msg, id string) error
	Close()
}

// Puller fetches deliveries from a bound pull consumer.
type Puller interface {
	Fetch(ctx context.Context) ([]Delivery, error)
	Unsubscribe() error
}

// Delivery is a fetched JetStream message. It is the transport handle
// attached to consumed messages.
type Delivery interface {
	Body() []byte
	// ID identifies the delivery when the envelope carries no id.
	ID() string
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Config holds JetStream-specific settings.
type Config struct {
	StreamName   string
	ConsumerName string
	MaxDeliver   int
	AckWait      time.Duration
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = DefaultConsumerName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = transport.DefaultPollTimeout
	}
	return c
}

// Connection consumes one stream through a durable pull consumer.
type Connection struct {
	client Client
	cfg    Config
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	pattern string
	puller  Puller
	closed  bool
}

// New ensures the stream exists and returns an unbound connection. The
// consumer is created on BindToTopic or, failing that, on the first Consume.
func New(_ context.Context, client Client, cfg Config, logger watermill.LoggerAdapter) (*Connection, error) {
	if client == nil {
		return nil, errspkg.ErrConnectionRequired
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	err := client.EnsureStream(&nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &Connection{
		client: client,
		cfg:    cfg,
		logger: logger.With(watermill.LogFields{"stream": cfg.StreamName}),
	}, nil
}

// BindToTopic creates the durable consumer filtered on pattern, where "#"
// matches everything and "order.#" matches the order topic.
func (c *Connection) BindToTopic(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrConnectionClosed
	}
	if c.puller != nil && c.pattern == pattern {
		return nil
	}
	return c.bindLocked(pattern)
}

func (c *Connection) bindLocked(pattern string) error {
	subject := c.subjectFor(pattern)
	durable := c.durableFor(pattern)

	err := c.client.EnsureConsumer(c.cfg.StreamName, &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	puller, err := c.client.PullSubscribe(c.cfg.StreamName, subject, durable)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if c.puller != nil {
		_ = c.puller.Unsubscribe()
	}
	c.puller = puller
	c.pattern = pattern

	c.logger.Debug("Bound JetStream consumer", watermill.LogFields{
		"subject": subject,
		"durable": durable,
	})
	return nil
}

// subjectFor converts an AMQP-style routing pattern to a NATS subject.
func (c *Connection) subjectFor(pattern string) string {
	if pattern == "" || pattern == "#" {
		return c.cfg.StreamName + ".>"
	}
	parts := strings.Split(pattern, ".")
	for i, p := range parts {
		if p == "#" {
			parts[i] = ">"
		}
	}
	return c.cfg.StreamName + "." + strings.Join(parts, ".")
}

func (c *Connection) durableFor(pattern string) string {
	topic, _, _ := strings.Cut(pattern, ".")
	if topic == "" || topic == "#" || topic == "*" {
		return c.cfg.ConsumerName
	}
	return c.cfg.ConsumerName + "_" + topic
}

// Consume fetches at most one message, waiting up to the poll timeout.
func (c *Connection) Consume(ctx context.Context) (*messages.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errspkg.ErrConnectionClosed
	}
	if c.puller == nil {
		if err := c.bindLocked("#"); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	puller := c.puller
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	deliveries, err := puller.Fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", transport.ErrTimeout, err)
		}
		return nil, err
	}
	if len(deliveries) == 0 {
		return nil, nil
	}

	d := deliveries[0]
	msg, err := messages.Decode(d.Body(), d.ID(), d)
	if err != nil {
		c.logger.Info("Dropping malformed JetStream message", watermill.LogFields{
			"delivery": d.ID(),
			"error":    err.Error(),
		})
		if termErr := d.Term(); termErr != nil {
			return nil, fmt.Errorf("failed to terminate malformed message: %w", termErr)
		}
		return nil, nil
	}
	return msg, nil
}

// Ack acknowledges the delivery.
func (c *Connection) Ack(_ context.Context, msg *messages.Message) error {
	d, ok := deliveryOf(msg)
	if !ok {
		return nil
	}
	return d.Ack()
}

// Nack naks the delivery for redelivery, or terminates it when requeue is false.
func (c *Connection) Nack(_ context.Context, msg *messages.Message, requeue bool) error {
	d, ok := deliveryOf(msg)
	if !ok {
		return nil
	}
	if requeue {
		return d.Nak()
	}
	return d.Term()
}

// Publish sends the envelope to "<stream>.<type>" with the message id as the
// JetStream de-duplication id.
func (c *Connection) Publish(ctx context.Context, eventType string, payload messages.Payload, id string) (string, error) {
	body, id, err := messages.Encode(id, eventType, payload)
	if err != nil {
		return "", err
	}

	natsMsg := nats.NewMsg(c.cfg.StreamName + "." + eventType)
	natsMsg.Data = body
	natsMsg.Header.Set(transport.MetadataEventType, eventType)

	if err := c.client.Publish(ctx, natsMsg, id); err != nil {
		return "", fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return id, nil
}

// Close unsubscribes and closes the NATS connection. It is safe to call more
// than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.puller != nil {
		err = c.puller.Unsubscribe()
		c.puller = nil
	}
	c.client.Close()
	return err
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Connection) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

func deliveryOf(msg *messages.Message) (Delivery, bool) {
	if msg == nil {
		return nil, false
	}
	d, ok := msg.Raw.(Delivery)
	return d, ok
}

type natsClient struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func (n *natsClient) EnsureStream(cfg *nats.StreamConfig) error {
	if _, err := n.js.AddStream(cfg); err != nil {
		if _, updateErr := n.js.UpdateStream(cfg); updateErr != nil {
			return errors.Join(err, updateErr)
		}
	}
	return nil
}

func (n *natsClient) EnsureConsumer(stream string, cfg *nats.ConsumerConfig) error {
	if _, err := n.js.AddConsumer(stream, cfg); err != nil {
		if _, updateErr := n.js.UpdateConsumer(stream, cfg); updateErr != nil {
			return errors.Join(err, updateErr)
		}
	}
	return nil
}

func (n *natsClient) PullSubscribe(stream, subject, durable string) (Puller, error) {
	sub, err := n.js.PullSubscribe(subject, durable, nats.BindStream(stream))
	if err != nil {
		return nil, err
	}
	return natsPuller{sub: sub}, nil
}

func (n *natsClient) Publish(ctx context.Context, msg *nats.Msg, id string) error {
	_, err := n.js.PublishMsg(msg, nats.MsgId(id), nats.Context(ctx))
	return err
}

func (n *natsClient) Close() {
	n.nc.Close()
}

type natsPuller struct {
	sub *nats.Subscription
}

func (p natsPuller) Fetch(ctx context.Context) ([]Delivery, error) {
	msgs, err := p.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, natsDelivery{Msg: m})
	}
	return out, nil
}

func (p natsPuller) Unsubscribe() error {
	return p.sub.Unsubscribe()
}

type natsDelivery struct {
	*nats.Msg
}

func (d natsDelivery) Body() []byte {
	return d.Data
}

func (d natsDelivery) ID() string {
	if id := d.Header.Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if meta, err := d.Metadata(); err == nil {
		return strconv.FormatUint(meta.Sequence.Stream, 10)
	}
	return ""
}
