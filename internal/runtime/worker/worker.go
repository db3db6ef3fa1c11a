// Package worker runs the consume → acknowledge → dispatch loop for one
// connection and one topic.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/internal/runtime/dispatch"
	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/internal/runtime/metrics"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/transport"
)

// State is the lifecycle state of a Loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Drainer executes deferred work alongside a loop until ctx is done.
type Drainer interface {
	Drain(ctx context.Context)
}

// Options configures a Loop.
type Options struct {
	// Connection is owned by the Loop and closed when it stops.
	Connection transport.Connection
	// ConnectionName labels logs and metrics.
	ConnectionName string
	// Topic is a topic name or one of the wildcards "*" and "#".
	Topic      string
	Registry   *handlers.Registry
	Router     *routing.TopicRouter
	Dispatcher *dispatch.Dispatcher
	Logger     loggingpkg.ServiceLogger
	Metrics    *metrics.WorkerMetrics

	// IdleSleep defaults to config.DefaultIdleSleep.
	IdleSleep time.Duration
	// ErrorBackoff defaults to config.DefaultErrorBackoff.
	ErrorBackoff time.Duration
	// Verbose logs poll timeouts at debug level.
	Verbose bool
	// Drainer, when set, runs for as long as the loop consumes. Run waits for
	// it to return before closing the connection.
	Drainer Drainer
}

// Loop consumes one connection until its context is cancelled.
type Loop struct {
	conn         transport.Connection
	connName     string
	topic        string
	registry     *handlers.Registry
	router       *routing.TopicRouter
	dispatcher   *dispatch.Dispatcher
	logger       loggingpkg.ServiceLogger
	metrics      *metrics.WorkerMetrics
	idleSleep    time.Duration
	errorBackoff time.Duration
	verbose      bool
	drainer      Drainer

	state     atomic.Int32
	processed atomic.Uint64
}

// New validates opts and builds a Loop. A nil Dispatcher gets one built from
// the registry and router.
func New(opts Options) (*Loop, error) {
	if opts.Connection == nil {
		return nil, errspkg.ErrConnectionRequired
	}
	if opts.Registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	if opts.Topic == "" {
		opts.Topic = routing.AllTopicsHash
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = config.DefaultIdleSleep
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = config.DefaultErrorBackoff
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		var err error
		dispatcher, err = dispatch.New(opts.Registry, dispatch.Options{
			Router:  opts.Router,
			Logger:  logger,
			Metrics: opts.Metrics,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Loop{
		conn:         opts.Connection,
		connName:     opts.ConnectionName,
		topic:        opts.Topic,
		registry:     opts.Registry,
		router:       opts.Router,
		dispatcher:   dispatcher,
		logger:       logger.With(loggingpkg.LogFields{"topic": opts.Topic, "connection": opts.ConnectionName}),
		metrics:      opts.Metrics,
		idleSleep:    opts.IdleSleep,
		errorBackoff: opts.ErrorBackoff,
		verbose:      opts.Verbose,
		drainer:      opts.Drainer,
	}, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Processed returns how many messages were dispatched.
func (l *Loop) Processed() uint64 {
	return l.processed.Load()
}

// Check reports a ConfigurationError when nothing would handle messages of
// the loop's topic: no registered handler type in the topic and no router
// mapping for it.
func (l *Loop) Check() error {
	return CheckTopic(l.registry, l.router, l.topic)
}

// CheckTopic is the startup precondition shared by loops and the CLI.
func CheckTopic(registry *handlers.Registry, router *routing.TopicRouter, topic string) error {
	if len(EventsForTopic(registry, router, topic)) > 0 {
		return nil
	}
	return errspkg.NewConfigurationError(fmt.Errorf("%w: %s", errspkg.ErrNoHandlersForTopic, topic))
}

// EventsForTopic lists the event types a worker on topic would act on:
// registered types inside the topic plus the router's mapped types.
func EventsForTopic(registry *handlers.Registry, router *routing.TopicRouter, topic string) []string {
	seen := make(map[string]struct{})
	var out []string
	if registry != nil {
		for _, eventType := range registry.EventTypes() {
			if routing.InTopic(eventType, topic) {
				seen[eventType] = struct{}{}
				out = append(out, eventType)
			}
		}
	}
	for eventType := range router.EventsForTopic(topic) {
		if _, ok := seen[eventType]; !ok {
			seen[eventType] = struct{}{}
			out = append(out, eventType)
		}
	}
	return out
}

// Run blocks until ctx is cancelled, then closes the connection and returns
// nil. It returns a ConfigurationError without consuming when the topic has
// no handlers, and an error when binding the topic fails.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("herald: worker loop already %s", l.State())
	}
	defer l.state.Store(int32(StateStopped))

	if err := l.Check(); err != nil {
		l.closeConnection()
		return err
	}

	if binder, ok := l.conn.(transport.TopicBinder); ok {
		pattern := routing.BindingPattern(l.topic)
		if err := binder.BindToTopic(ctx, pattern); err != nil {
			l.closeConnection()
			return fmt.Errorf("bind topic %q: %w", pattern, err)
		}
	}

	l.metrics.WorkerStarted(l.topic)
	defer l.metrics.WorkerStopped(l.topic)
	l.logger.Info("Worker started", nil)

	drained := l.startDrainer(ctx)

	for ctx.Err() == nil {
		l.iterate(ctx)
	}

	l.state.Store(int32(StateDraining))
	l.logger.Info("Worker draining", loggingpkg.LogFields{"processed": l.Processed()})
	<-drained
	l.closeConnection()
	l.logger.Info("Worker stopped", nil)
	return nil
}

// startDrainer runs the drainer until ctx is done. The returned channel is
// closed once it has returned.
func (l *Loop) startDrainer(ctx context.Context) <-chan struct{} {
	drained := make(chan struct{})
	if l.drainer == nil {
		close(drained)
		return drained
	}
	go func() {
		defer close(drained)
		l.drainer.Drain(ctx)
	}()
	return drained
}

func (l *Loop) iterate(ctx context.Context) {
	msg, err := l.conn.Consume(ctx)
	switch {
	case err != nil && errors.Is(err, transport.ErrTimeout):
		if l.verbose {
			l.logger.Debug("Poll timed out", nil)
		}
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		l.metrics.RecordTransportError(l.connName)
		l.logger.Error("Consume failed", err, nil)
		sleep(ctx, l.errorBackoff)
		return
	case msg == nil:
		l.metrics.RecordIdlePoll(l.connName)
		sleep(ctx, l.idleSleep)
		return
	}

	l.handle(ctx, msg)
}

func (l *Loop) handle(ctx context.Context, msg *messages.Message) {
	fields := loggingpkg.LogFields{"message_id": msg.ID, "event_type": msg.Type}

	// Acknowledged once, before any handler runs.
	if err := l.conn.Ack(ctx, msg); err != nil {
		l.logger.Error("Acknowledge failed", err, fields)
	}

	if !routing.InTopic(msg.Type, l.topic) {
		l.metrics.RecordSkipped(l.topic)
		l.logger.Debug("Skipping message outside topic", fields)
		return
	}

	l.metrics.RecordMessage(l.topic, msg.Type)
	l.logger.Debug("Dispatching message", fields)

	result := l.dispatcher.Dispatch(context.WithoutCancel(ctx), msg)
	l.processed.Add(1)
	if result.Failed > 0 || result.Rejected > 0 {
		l.logger.Info("Message processed with handler failures", loggingpkg.LogFields{
			"message_id": msg.ID,
			"event_type": msg.Type,
			"failed":     result.Failed,
			"rejected":   result.Rejected,
		})
	}
}

func (l *Loop) closeConnection() {
	if err := l.conn.Close(); err != nil {
		l.logger.Error("Closing connection failed", err, nil)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
