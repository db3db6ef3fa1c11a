// Package routing resolves event types to topics and to the notification
// targets configured per topic.
//
// A topic is the first dot-separated segment of an event type: "order.paid"
// belongs to "order". The wildcards "*" and "#" stand for every topic.
package routing

import (
	"sort"
	"strings"
)

// Wildcard topics matching every event type.
const (
	AllTopics     = "*"
	AllTopicsHash = "#"
)

// TopicRouter is an immutable topic → (event type → target) mapping loaded
// from configuration.
type TopicRouter struct {
	topics map[string]map[string]string
}

// NewTopicRouter copies mappings into a new router.
func NewTopicRouter(mappings map[string]map[string]string) *TopicRouter {
	topics := make(map[string]map[string]string, len(mappings))
	for topic, events := range mappings {
		copied := make(map[string]string, len(events))
		for eventType, target := range events {
			copied[eventType] = target
		}
		topics[topic] = copied
	}
	return &TopicRouter{topics: topics}
}

// EventsForTopic returns the event → target mapping of topic, or the union of
// every topic for a wildcard. The result is a copy.
func (r *TopicRouter) EventsForTopic(topic string) map[string]string {
	out := make(map[string]string)
	if r == nil {
		return out
	}
	if IsWildcard(topic) {
		for _, name := range r.Topics() {
			for eventType, target := range r.topics[name] {
				if _, seen := out[eventType]; !seen {
					out[eventType] = target
				}
			}
		}
		return out
	}
	for eventType, target := range r.topics[topic] {
		out[eventType] = target
	}
	return out
}

// Lookup returns the target configured for eventType. The event's own topic
// is consulted first, then every other topic in lexical order.
func (r *TopicRouter) Lookup(eventType string) (string, bool) {
	if r == nil {
		return "", false
	}
	if target, ok := r.topics[TopicOf(eventType)][eventType]; ok {
		return target, true
	}
	for _, name := range r.Topics() {
		if target, ok := r.topics[name][eventType]; ok {
			return target, true
		}
	}
	return "", false
}

// Topics returns the configured topic names, sorted.
func (r *TopicRouter) Topics() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTopic reports whether topic has at least one mapping. Wildcards match
// when any topic does.
func (r *TopicRouter) HasTopic(topic string) bool {
	return len(r.EventsForTopic(topic)) > 0
}

// TopicOf returns the first dot-separated segment of eventType.
func TopicOf(eventType string) string {
	topic, _, _ := strings.Cut(eventType, ".")
	return topic
}

// IsWildcard reports whether topic selects every topic.
func IsWildcard(topic string) bool {
	return topic == AllTopics || topic == AllTopicsHash || topic == ""
}

// InTopic reports whether eventType belongs to topic.
func InTopic(eventType, topic string) bool {
	return IsWildcard(topic) || TopicOf(eventType) == topic
}

// BindingPattern returns the routing-key pattern for topic: "order.#" for a
// named topic, "#" for a wildcard.
func BindingPattern(topic string) string {
	if IsWildcard(topic) {
		return AllTopicsHash
	}
	return topic + ".#"
}
