package dispatch

import (
	"context"
	"time"

	"github.com/drblury/herald/internal/runtime/handlers"
	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
	"github.com/drblury/herald/internal/runtime/metrics"
)

// HandlerContext describes one handler execution to hooks.
type HandlerContext struct {
	// Context is the dispatch context.
	Context   context.Context
	EventType string
	MessageID string
	// Handler is the descriptor's display name.
	Handler string
	Kind    handlers.Kind
	// StartedAt is when the handler was started or enqueued.
	StartedAt time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
	// Queued is true when the handler was handed to the task queue instead of
	// running inline.
	Queued bool
}

// Hooks are optional callbacks around every handler. Nil hooks are skipped.
type Hooks struct {
	OnStart func(ctx HandlerContext)
	OnDone  func(ctx HandlerContext)
	OnError func(ctx HandlerContext, err error)
}

// Merge combines two Hooks. The hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chain(h.OnStart, other.OnStart),
		OnDone:  chain(h.OnDone, other.OnDone),
		OnError: chainError(h.OnError, other.OnError),
	}
}

func chain(a, b func(HandlerContext)) func(HandlerContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(HandlerContext, error)) func(HandlerContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h Hooks) start(ctx HandlerContext) {
	if h.OnStart != nil {
		h.OnStart(ctx)
	}
}

func (h Hooks) done(ctx HandlerContext) {
	if h.OnDone != nil {
		h.OnDone(ctx)
	}
}

func (h Hooks) fail(ctx HandlerContext, err error) {
	if h.OnError != nil {
		h.OnError(ctx, err)
	}
}

// LoggingHooks logs handler lifecycle events at debug level. Failures are
// logged by the Dispatcher itself.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnStart: func(ctx HandlerContext) {
			logger.Debug("Handler started", loggingpkg.LogFields{
				"handler":    ctx.Handler,
				"event_type": ctx.EventType,
				"message_id": ctx.MessageID,
				"queued":     ctx.Queued,
			})
		},
		OnDone: func(ctx HandlerContext) {
			logger.Debug("Handler completed", loggingpkg.LogFields{
				"handler":     ctx.Handler,
				"event_type":  ctx.EventType,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks records handler outcomes on m.
func MetricsHooks(m *metrics.WorkerMetrics) Hooks {
	return Hooks{
		OnDone: func(ctx HandlerContext) {
			outcome := metrics.OutcomeSuccess
			if ctx.Queued {
				outcome = metrics.OutcomeQueued
			}
			m.RecordHandler(ctx.EventType, ctx.Handler, outcome, ctx.Duration)
		},
		OnError: func(ctx HandlerContext, err error) {
			outcome := metrics.OutcomeFailure
			if isRegistrationError(err) {
				outcome = metrics.OutcomeRejected
			}
			m.RecordHandler(ctx.EventType, ctx.Handler, outcome, ctx.Duration)
		},
	}
}
