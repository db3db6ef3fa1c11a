// Package messages defines the Message value exchanged between connections,
// the dispatcher, and the deferred task facility, together with the JSON wire
// envelope used by every broker-backed connection.
package messages

import "strings"

// Message is a decoded broker message.
//
// Raw is the owning connection's transport handle (an AMQP delivery, a stream
// entry reference, ...). Handler code must never inspect it; it is only used to
// correlate Ack and Nack calls and is dropped by Detach.
type Message struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
	Raw     any     `json:"-"`
}

// New constructs a Message.
func New(id, eventType string, payload Payload, raw any) *Message {
	return &Message{ID: id, Type: eventType, Payload: payload, Raw: raw}
}

// Topic returns the first dot-separated segment of the message type.
func (m *Message) Topic() string {
	return TopicOf(m.Type)
}

// Detach returns a copy that no longer references the transport handle. Use it
// whenever a message leaves the consuming process (e.g. deferred execution).
func (m *Message) Detach() *Message {
	return &Message{ID: m.ID, Type: m.Type, Payload: m.Payload}
}

// TopicOf returns the first dot-separated segment of eventType.
func TopicOf(eventType string) string {
	topic, _, _ := strings.Cut(eventType, ".")
	return topic
}
