// Package rabbitmq provides the exchange-backed RabbitMQ connection for Herald.
//
// The connection declares a durable exchange (topic by default) and a durable
// queue at construction, limits the channel to one unacknowledged delivery
// (prefetch 1), and publishes with the event type as routing key. Topic
// exchanges require BindToTopic before consuming; fanout queues are bound
// once at construction.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/rabbitmq/amqp091-go"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "rabbitmq"

// Exchange kinds with special binding rules.
const (
	ExchangeTopic  = amqp.ExchangeTopic
	ExchangeFanout = amqp.ExchangeFanout
)

// Channel is the subset of *amqp.Channel the connection uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// Dial allows overriding the broker session creation for testing. It returns
// the channel and the closer of the underlying AMQP connection.
var Dial = func(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

func init() {
	Register()
}

// Register registers the RabbitMQ driver with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// Build dials the broker and returns a ready connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	return New(ctx, Config{
		URL:          cfg.GetRabbitMQURL(),
		Exchange:     cfg.GetExchange(),
		ExchangeType: cfg.GetExchangeType(),
		Queue:        cfg.GetQueue(),
		Durable:      cfg.GetQueueDurable(),
		PollTimeout:  transport.PollTimeout(cfg),
	}, logger)
}

// Config holds RabbitMQ-specific settings.
type Config struct {
	URL          string
	Exchange     string
	ExchangeType string
	Queue        string
	Durable      bool
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExchangeType == "" {
		c.ExchangeType = ExchangeTopic
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = transport.DefaultPollTimeout
	}
	return c
}

// Connection is a single AMQP channel consuming one queue.
type Connection struct {
	cfg     Config
	channel Channel
	conn    io.Closer
	logger  watermill.LoggerAdapter

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	closed     bool
}

// New dials the broker, declares the exchange and queue, and sets prefetch 1.
func New(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (*Connection, error) {
	cfg = cfg.withDefaults()
	if cfg.Exchange == "" || cfg.Queue == "" {
		return nil, errors.New("herald: rabbitmq exchange and queue are required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	ch, conn, err := Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c := &Connection{
		cfg:     cfg,
		channel: ch,
		conn:    conn,
		logger:  logger.With(watermill.LogFields{"exchange": cfg.Exchange, "queue": cfg.Queue}),
	}

	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) declare() error {
	if err := c.channel.ExchangeDeclare(c.cfg.Exchange, c.cfg.ExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.cfg.Queue, c.cfg.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if c.cfg.ExchangeType == ExchangeFanout {
		if err := c.channel.QueueBind(c.cfg.Queue, "", c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// BindToTopic binds the queue to a routing-key pattern such as "order.#" or
// "#". Fanout queues are already bound, so the call is a no-op for them.
func (c *Connection) BindToTopic(_ context.Context, pattern string) error {
	if c.cfg.ExchangeType == ExchangeFanout {
		return nil
	}
	if err := c.channel.QueueBind(c.cfg.Queue, pattern, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %q: %w", pattern, err)
	}
	c.logger.Info("Bound queue", watermill.LogFields{"pattern": pattern})
	return nil
}

// Consume waits up to the poll timeout for one delivery.
func (c *Connection) Consume(ctx context.Context) (*messages.Message, error) {
	deliveries, err := c.startConsuming()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, nil
	case <-timer.C:
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("%w: delivery channel closed", errspkg.ErrConnectionClosed)
		}
		msg, err := messages.Decode(d.Body, strconv.FormatUint(d.DeliveryTag, 10), d)
		if err != nil {
			c.logger.Info("Dropping malformed message", watermill.LogFields{
				"delivery_tag": d.DeliveryTag,
				"error":        err.Error(),
			})
			if ackErr := c.channel.Ack(d.DeliveryTag, false); ackErr != nil {
				return nil, fmt.Errorf("failed to ack malformed message: %w", ackErr)
			}
			return nil, nil
		}
		return msg, nil
	}
}

func (c *Connection) startConsuming() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errspkg.ErrConnectionClosed
	}
	if c.deliveries != nil {
		return c.deliveries, nil
	}

	deliveries, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	c.deliveries = deliveries
	return deliveries, nil
}

// Ack acknowledges the delivery behind msg.
func (c *Connection) Ack(_ context.Context, msg *messages.Message) error {
	d, ok := delivery(msg)
	if !ok {
		return nil
	}
	return c.channel.Ack(d.DeliveryTag, false)
}

// Nack rejects the delivery behind msg, optionally requeueing it.
func (c *Connection) Nack(_ context.Context, msg *messages.Message, requeue bool) error {
	d, ok := delivery(msg)
	if !ok {
		return nil
	}
	return c.channel.Nack(d.DeliveryTag, false, requeue)
}

// Publish sends a persistent message routed by its event type.
func (c *Connection) Publish(ctx context.Context, eventType string, payload messages.Payload, id string) (string, error) {
	body, id, err := messages.Encode(id, eventType, payload)
	if err != nil {
		return "", err
	}

	err = c.channel.PublishWithContext(ctx, c.cfg.Exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}
	return id, nil
}

// Close closes the channel and the underlying connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	errs := []error{c.channel.Close()}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Connection) Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

func delivery(msg *messages.Message) (amqp.Delivery, bool) {
	if msg == nil {
		return amqp.Delivery{}, false
	}
	d, ok := msg.Raw.(amqp.Delivery)
	return d, ok
}
