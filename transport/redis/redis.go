// Package redis provides the consumer-group stream connection for Herald.
//
// Events are appended to a Redis stream as a single "data" field holding the
// JSON envelope. Each worker reads through a consumer group with a stable
// consumer name. A new connection first replays the entries still pending for
// that consumer name (left by a crash or by Nack with requeue) and then reads
// new entries. Entries pending for other consumer names are not claimed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "redis"

// DataField is the stream entry field carrying the JSON envelope.
const DataField = "data"

// ClientFactory allows overriding the Redis client creation for testing.
var ClientFactory = func(opts *goredis.Options) goredis.UniversalClient {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the Redis stream driver with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Build creates the client and ensures the consumer group exists.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	client := ClientFactory(&goredis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})
	conn, err := New(ctx, client, Config{
		Stream:        cfg.GetStream(),
		ConsumerGroup: cfg.GetConsumerGroup(),
		ConsumerName:  cfg.GetConsumerName(),
		PollTimeout:   transport.PollTimeout(cfg),
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return conn, nil
}

// Config holds stream-specific settings.
type Config struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	// PollTimeout is the XREADGROUP BLOCK duration.
	PollTimeout time.Duration
}

// Entry is the transport handle attached to consumed messages.
type Entry struct {
	Stream string
	ID     string
}

// Connection reads one stream through one consumer group.
type Connection struct {
	client goredis.UniversalClient
	cfg    Config
	logger watermill.LoggerAdapter

	// replaying is set until the consumer's pending list has been read once;
	// replayCursor is the last pending entry handed out.
	replaying    bool
	replayCursor string
}

// New wraps client and creates the consumer group at the start of the stream
// (creating the stream as well) unless it already exists.
func New(ctx context.Context, client goredis.UniversalClient, cfg Config, logger watermill.LoggerAdapter) (*Connection, error) {
	if cfg.Stream == "" || cfg.ConsumerGroup == "" || cfg.ConsumerName == "" {
		return nil, errors.New("herald: redis stream, consumer group and consumer name are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = transport.DefaultPollTimeout
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Connection{
		client:       client,
		cfg:          cfg,
		replaying:    true,
		replayCursor: "0",
		logger: logger.With(watermill.LogFields{
			"stream":         cfg.Stream,
			"consumer_group": cfg.ConsumerGroup,
			"consumer":       cfg.ConsumerName,
		}),
	}, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Consume returns at most one entry for this consumer. Pending entries are
// replayed first; after that it reads new entries, blocking up to the poll
// timeout. A connection is read by a single loop.
func (c *Connection) Consume(ctx context.Context) (*messages.Message, error) {
	if c.replaying {
		entry, ok, err := c.read(ctx, c.replayCursor, 0)
		if err != nil || ctx.Err() != nil {
			return nil, err
		}
		if ok {
			c.replayCursor = entry.ID
			c.logger.Debug("Replaying pending stream entry", watermill.LogFields{"entry_id": entry.ID})
			return c.decode(ctx, entry)
		}
		c.replaying = false
	}

	entry, ok, err := c.read(ctx, ">", c.cfg.PollTimeout)
	if err != nil || !ok {
		return nil, err
	}
	return c.decode(ctx, entry)
}

func (c *Connection) read(ctx context.Context, id string, block time.Duration) (goredis.XMessage, bool, error) {
	args := &goredis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.Stream, id},
		Count:    1,
		Block:    block,
	}
	if block <= 0 {
		// A negative Block omits BLOCK; zero would block forever.
		args.Block = -1
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, goredis.Nil) {
		return goredis.XMessage{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return goredis.XMessage{}, false, nil
		}
		return goredis.XMessage{}, false, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return goredis.XMessage{}, false, nil
	}
	return streams[0].Messages[0], true, nil
}

func (c *Connection) decode(ctx context.Context, entry goredis.XMessage) (*messages.Message, error) {
	handle := Entry{Stream: c.cfg.Stream, ID: entry.ID}

	data, _ := entry.Values[DataField].(string)
	msg, err := messages.Decode([]byte(data), entry.ID, handle)
	if err != nil {
		c.logger.Info("Dropping malformed stream entry", watermill.LogFields{
			"entry_id": entry.ID,
			"error":    err.Error(),
		})
		if ackErr := c.xack(ctx, handle); ackErr != nil {
			return nil, fmt.Errorf("failed to ack malformed entry: %w", ackErr)
		}
		return nil, nil
	}
	return msg, nil
}

// Ack acknowledges the stream entry for the consumer group.
func (c *Connection) Ack(ctx context.Context, msg *messages.Message) error {
	handle, ok := entryOf(msg)
	if !ok {
		return nil
	}
	return c.xack(ctx, handle)
}

// Nack has no native stream equivalent. Without requeue the entry is
// acknowledged (dropped); with requeue it is deliberately left pending so it
// can be claimed and redelivered later.
func (c *Connection) Nack(ctx context.Context, msg *messages.Message, requeue bool) error {
	if requeue {
		return nil
	}
	return c.Ack(ctx, msg)
}

func (c *Connection) xack(ctx context.Context, handle Entry) error {
	return c.client.XAck(ctx, handle.Stream, c.cfg.ConsumerGroup, handle.ID).Err()
}

// Publish appends the envelope to the stream.
func (c *Connection) Publish(ctx context.Context, eventType string, payload messages.Payload, id string) (string, error) {
	body, id, err := messages.Encode(id, eventType, payload)
	if err != nil {
		return "", err
	}

	err = c.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{DataField: string(body)},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream: %w", err)
	}
	return id, nil
}

// Close closes the Redis client.
func (c *Connection) Close() error {
	return c.client.Close()
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Connection) Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

func entryOf(msg *messages.Message) (Entry, bool) {
	if msg == nil {
		return Entry{}, false
	}
	e, ok := msg.Raw.(Entry)
	return e, ok
}
