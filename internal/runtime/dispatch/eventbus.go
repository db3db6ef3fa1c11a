package dispatch

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/herald/internal/runtime/jsoncodec"
	"github.com/drblury/herald/internal/runtime/messages"
)

// EventDispatched is raised on the host EventBus for messages that have no
// registered handler but a configured topic router target.
type EventDispatched struct {
	Target  string           `json:"target"`
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Payload messages.Payload `json:"payload"`
}

// EventBus is the host application's in-process notification bus.
type EventBus interface {
	Dispatch(ctx context.Context, event EventDispatched) error
}

// EventBusFunc adapts a function to EventBus.
type EventBusFunc func(ctx context.Context, event EventDispatched) error

// Dispatch calls f(ctx, event).
func (f EventBusFunc) Dispatch(ctx context.Context, event EventDispatched) error {
	return f(ctx, event)
}

// MetadataTarget and MetadataEventType are set on messages published by
// WatermillEventBus.
const (
	MetadataTarget    = "herald_target"
	MetadataEventType = "herald_type"
)

// WatermillEventBus publishes notifications to a Watermill publisher, one
// topic per target. Pair it with gochannel to fan notifications out in
// process, or with any broker publisher to forward them.
type WatermillEventBus struct {
	Publisher message.Publisher
	// TopicPrefix is prepended to the target to form the topic name.
	TopicPrefix string
}

// Dispatch encodes event as JSON and publishes it.
func (b *WatermillEventBus) Dispatch(ctx context.Context, event EventDispatched) error {
	body, err := jsoncodec.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", event.Target, err)
	}
	msg := message.NewMessage(event.ID, body)
	msg.Metadata.Set(MetadataTarget, event.Target)
	msg.Metadata.Set(MetadataEventType, event.Type)
	msg.SetContext(ctx)
	return b.Publisher.Publish(b.TopicPrefix+event.Target, msg)
}

// DecodeEventDispatched parses a notification published by WatermillEventBus.
func DecodeEventDispatched(msg *message.Message) (EventDispatched, error) {
	var event EventDispatched
	if err := jsoncodec.Unmarshal(msg.Payload, &event); err != nil {
		return EventDispatched{}, err
	}
	return event, nil
}
