// Package handlers holds the handler contract, the tagged handler descriptor
// and the registry that maps event types to ordered handler lists.
package handlers

import (
	"context"

	"github.com/drblury/herald/internal/runtime/messages"
)

// Handler processes a single message.
type Handler interface {
	Handle(ctx context.Context, msg *messages.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *messages.Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg *messages.Message) error {
	return f(ctx, msg)
}

// Deferred marks handler types whose executions are handed off to the task
// queue instead of running inside the worker loop. Embed Queued to opt in.
type Deferred interface {
	Handler
	Deferred()
}

// Queued is embedded by handler types that should run deferred.
type Queued struct{}

// Deferred implements the Deferred marker.
func (Queued) Deferred() {}

// IsDeferred reports whether h carries the Deferred marker.
func IsDeferred(h Handler) bool {
	_, ok := h.(Deferred)
	return ok
}
