// Package dispatch runs the handlers registered for a message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/internal/runtime/metrics"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/internal/runtime/tasks"
)

const tracerName = "github.com/drblury/herald/dispatch"

// Options configures a Dispatcher. Every field is optional.
type Options struct {
	// Router resolves fallback targets for messages without handlers.
	Router *routing.TopicRouter
	// Enqueuer receives deferred class handlers.
	Enqueuer tasks.Enqueuer
	// EventBus receives EventDispatched notifications for fallbacks.
	EventBus EventBus
	Logger   loggingpkg.ServiceLogger
	Hooks    Hooks
	Metrics  *metrics.WorkerMetrics
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// Result summarises one Dispatch call.
type Result struct {
	Executed int
	Queued   int
	Failed   int
	Rejected int
	// FellBack is the router target raised for a message without handlers.
	FellBack string
	Errors   []error
}

// Err joins every handler error, or returns nil.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Dispatcher executes the handlers of a Registry.
type Dispatcher struct {
	registry *handlers.Registry
	router   *routing.TopicRouter
	enqueuer tasks.Enqueuer
	bus      EventBus
	logger   loggingpkg.ServiceLogger
	hooks    Hooks
	metrics  *metrics.WorkerMetrics
	tracer   trace.Tracer
}

// New builds a Dispatcher over registry.
func New(registry *handlers.Registry, opts Options) (*Dispatcher, error) {
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	hooks := opts.Hooks
	if opts.Metrics != nil {
		hooks = hooks.Merge(MetricsHooks(opts.Metrics))
	}
	return &Dispatcher{
		registry: registry,
		router:   opts.Router,
		enqueuer: opts.Enqueuer,
		bus:      opts.EventBus,
		logger:   logger,
		hooks:    hooks,
		metrics:  opts.Metrics,
		tracer:   tracer,
	}, nil
}

// Dispatch runs every handler registered for msg.Type in registration order.
// A failing handler never stops the ones after it. When nothing is registered
// the topic router fallback is tried instead.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *messages.Message) Result {
	ctx, span := d.tracer.Start(ctx, "herald.dispatch "+msg.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("herald.message_id", msg.ID),
			attribute.String("herald.event_type", msg.Type),
		),
	)
	defer span.End()

	registered := d.registry.Handlers(msg.Type)
	var result Result
	if len(registered) == 0 {
		result = d.fallback(ctx, msg)
	} else {
		for _, descriptor := range registered {
			d.run(ctx, msg, descriptor, &result)
		}
	}

	span.SetAttributes(
		attribute.Int("herald.handlers.executed", result.Executed),
		attribute.Int("herald.handlers.queued", result.Queued),
		attribute.Int("herald.handlers.failed", result.Failed+result.Rejected),
	)
	if err := result.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failure")
	}
	return result
}

func (d *Dispatcher) run(ctx context.Context, msg *messages.Message, descriptor handlers.Descriptor, result *Result) {
	hctx := HandlerContext{
		Context:   ctx,
		EventType: msg.Type,
		MessageID: msg.ID,
		Handler:   descriptor.Name(),
		Kind:      descriptor.Kind(),
		StartedAt: time.Now(),
	}

	switch descriptor.Kind() {
	case handlers.KindClosure:
		d.inline(hctx, msg, descriptor.Closure(), result)

	case handlers.KindInstance:
		if descriptor.InstanceDeferred() {
			d.reject(hctx, result)
			return
		}
		d.inline(hctx, msg, descriptor.Handler(), result)

	case handlers.KindClass:
		info, ok := d.registry.Catalog().Lookup(descriptor.ClassName())
		if !ok {
			d.fail(hctx, fmt.Errorf("%w: %s", errspkg.ErrUnknownHandlerClass, descriptor.ClassName()), result)
			return
		}
		if info.Deferred {
			d.enqueue(hctx, msg, info.Name, result)
			return
		}
		h, err := d.registry.Catalog().New(info.Name)
		if err != nil {
			d.fail(hctx, err, result)
			return
		}
		d.inline(hctx, msg, h, result)
	}
}

func (d *Dispatcher) inline(hctx HandlerContext, msg *messages.Message, h handlers.Handler, result *Result) {
	d.hooks.start(hctx)
	err := safeHandle(hctx.Context, h, msg)
	hctx.Duration = time.Since(hctx.StartedAt)
	if err != nil {
		d.fail(hctx, err, result)
		return
	}
	result.Executed++
	d.hooks.done(hctx)
}

func (d *Dispatcher) enqueue(hctx HandlerContext, msg *messages.Message, class string, result *Result) {
	hctx.Queued = true
	if d.enqueuer == nil {
		d.fail(hctx, errspkg.ErrEnqueuerRequired, result)
		return
	}
	d.hooks.start(hctx)
	err := d.enqueuer.Enqueue(hctx.Context, class, msg.Detach())
	hctx.Duration = time.Since(hctx.StartedAt)
	if err != nil {
		d.fail(hctx, fmt.Errorf("enqueue %s: %w", class, err), result)
		return
	}
	result.Queued++
	d.hooks.done(hctx)
}

func (d *Dispatcher) reject(hctx HandlerContext, result *Result) {
	err := &errspkg.RegistrationError{
		EventType: hctx.EventType,
		Handler:   hctx.Handler,
		Err:       errspkg.ErrDeferredInstance,
	}
	result.Rejected++
	result.Errors = append(result.Errors, err)
	d.logger.Error("Handler registration rejected", err, loggingpkg.LogFields{
		"handler":    hctx.Handler,
		"event_type": hctx.EventType,
		"message_id": hctx.MessageID,
	})
	d.hooks.fail(hctx, err)
}

func (d *Dispatcher) fail(hctx HandlerContext, err error, result *Result) {
	execErr := &errspkg.HandlerExecutionError{
		EventType: hctx.EventType,
		MessageID: hctx.MessageID,
		Handler:   hctx.Handler,
		Err:       err,
	}
	result.Failed++
	result.Errors = append(result.Errors, execErr)
	d.logger.Error("Handler failed", execErr, loggingpkg.LogFields{
		"handler":    hctx.Handler,
		"event_type": hctx.EventType,
		"message_id": hctx.MessageID,
		"queued":     hctx.Queued,
	})
	d.hooks.fail(hctx, execErr)
}

func (d *Dispatcher) fallback(ctx context.Context, msg *messages.Message) Result {
	var result Result
	if d.router == nil {
		return result
	}
	target, ok := d.router.Lookup(msg.Type)
	if !ok {
		d.logger.Debug("No handler or topic mapping for message", loggingpkg.LogFields{
			"event_type": msg.Type,
			"message_id": msg.ID,
		})
		return result
	}
	if d.bus == nil {
		d.logger.Debug("Topic mapping found but no event bus configured", loggingpkg.LogFields{
			"event_type": msg.Type,
			"target":     target,
		})
		return result
	}

	event := EventDispatched{Target: target, ID: msg.ID, Type: msg.Type, Payload: msg.Payload}
	if err := d.bus.Dispatch(ctx, event); err != nil {
		execErr := &errspkg.HandlerExecutionError{
			EventType: msg.Type,
			MessageID: msg.ID,
			Handler:   target,
			Err:       err,
		}
		result.Failed++
		result.Errors = append(result.Errors, execErr)
		d.logger.Error("Event bus notification failed", execErr, loggingpkg.LogFields{
			"event_type": msg.Type,
			"target":     target,
		})
		return result
	}
	result.FellBack = target
	d.metrics.RecordFallback(msg.Type, target)
	return result
}

func safeHandle(ctx context.Context, h handlers.Handler, msg *messages.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

func isRegistrationError(err error) bool {
	var regErr *errspkg.RegistrationError
	return errors.As(err, &regErr)
}
