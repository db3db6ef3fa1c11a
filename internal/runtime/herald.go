package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"

	configpkg "github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/internal/runtime/dispatch"
	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/internal/runtime/metrics"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/internal/runtime/tasks"
	"github.com/drblury/herald/transport"
	"github.com/drblury/herald/transport/fake"
)

// NotificationTopicPrefix prefixes the in-process topics router fallbacks are
// published on when no EventBus is supplied.
const NotificationTopicPrefix = "herald.notifications."

// Dependencies holds the optional collaborators of a Herald. Leave fields nil
// to get the defaults.
type Dependencies struct {
	// Registry defaults to an empty registry with its own catalog.
	Registry *handlers.Registry
	// Transports defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// Enqueuer defaults to Temporal when Config.TemporalAddress is set and to
	// an in-process MemoryQueue otherwise. Worker loops drain the MemoryQueue
	// while they run.
	Enqueuer tasks.Enqueuer
	// EventBus defaults to an in-process Watermill channel, see Notifications.
	EventBus dispatch.EventBus
	Hooks    dispatch.Hooks
	Tracer   trace.Tracer
	// MetricsRegisterer defaults to the Prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
	// SlogLogger is handed to clients that log through slog (Temporal).
	SlogLogger *slog.Logger
}

// Herald owns the configuration, the handler registry and the broker
// connections of one process.
type Herald struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry   *handlers.Registry
	router     *routing.TopicRouter
	transports *transport.Registry
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.WorkerMetrics
	gatherer   prometheus.Gatherer

	enqueuer tasks.Enqueuer
	memQueue *tasks.MemoryQueue
	temporal client.Client

	notifications *gochannel.GoChannel

	mu          sync.Mutex
	connections map[string]transport.Connection
	fake        *fake.Connection

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	endpointsOnce sync.Once

	usage *usageSampler
}

// New validates conf and wires a Herald.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Herald, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigurationError(err)
	}

	log.Info("Creating herald", loggingpkg.LogFields{
		"default_connection": conf.DefaultConnection,
		"config":             conf,
	})

	h := &Herald{
		Conf:        conf,
		Logger:      log,
		registry:    deps.Registry,
		router:      routing.NewTopicRouter(conf.Topics),
		transports:  deps.Transports,
		metrics:     metrics.New(deps.MetricsRegisterer),
		connections: make(map[string]transport.Connection),
		usage:       newUsageSampler(),
	}
	if h.registry == nil {
		h.registry = handlers.NewRegistry(nil)
	}
	if h.transports == nil {
		h.transports = transport.DefaultRegistry
	}
	if gatherer, ok := deps.MetricsRegisterer.(prometheus.Gatherer); ok {
		h.gatherer = gatherer
	}
	if conf.MetricsEnabled {
		if err := h.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if err := h.setupEnqueuer(deps); err != nil {
		return nil, err
	}

	bus := deps.EventBus
	if bus == nil {
		h.notifications = gochannel.NewGoChannel(gochannel.Config{}, loggingpkg.NewWatermillAdapter(log))
		bus = &dispatch.WatermillEventBus{Publisher: h.notifications, TopicPrefix: NotificationTopicPrefix}
	}

	dispatcher, err := dispatch.New(h.registry, dispatch.Options{
		Router:   h.router,
		Enqueuer: h.enqueuer,
		EventBus: bus,
		Logger:   log,
		Hooks:    dispatch.LoggingHooks(log).Merge(deps.Hooks),
		Metrics:  h.metrics,
		Tracer:   deps.Tracer,
	})
	if err != nil {
		return nil, err
	}
	h.dispatcher = dispatcher
	return h, nil
}

// MustNew is New that panics on error.
func MustNew(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) *Herald {
	h, err := New(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Herald) setupEnqueuer(deps Dependencies) error {
	if deps.Enqueuer != nil {
		h.enqueuer = deps.Enqueuer
		return nil
	}
	if h.Conf.TemporalAddress != "" {
		temporalClient, err := tasks.NewTemporalClient(h.Conf.TemporalAddress, h.Conf.TemporalNamespace, deps.SlogLogger)
		if err != nil {
			return err
		}
		h.temporal = temporalClient
		h.enqueuer = tasks.NewTemporalEnqueuer(temporalClient, h.Conf.TemporalTaskQueue)
		return nil
	}
	h.memQueue = tasks.NewMemoryQueue(h.registry.Catalog(), loggingpkg.NewWatermillAdapter(h.Logger))
	h.enqueuer = h.memQueue
	return nil
}

// Registry returns the handler registry.
func (h *Herald) Registry() *handlers.Registry { return h.registry }

// Router returns the topic router built from Config.Topics.
func (h *Herald) Router() *routing.TopicRouter { return h.router }

// Dispatcher returns the dispatcher shared by every worker of this Herald.
func (h *Herald) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Metrics returns the worker metrics.
func (h *Herald) Metrics() *metrics.WorkerMetrics { return h.metrics }

// Enqueuer returns the task facility deferred handlers are handed to.
func (h *Herald) Enqueuer() tasks.Enqueuer { return h.enqueuer }

// MemoryQueue returns the in-process task queue, or nil when another
// facility is configured.
func (h *Herald) MemoryQueue() *tasks.MemoryQueue { return h.memQueue }

// Temporal returns the Temporal client, or nil when Temporal is not configured.
func (h *Herald) Temporal() client.Client { return h.temporal }

// Define registers a handler class.
func (h *Herald) Define(name string, ctor handlers.Constructor) error {
	return h.registry.Define(name, ctor)
}

// On registers d for eventType.
func (h *Herald) On(eventType string, d handlers.Descriptor) error {
	return h.registry.On(eventType, d)
}

// OnAny registers d for each event type.
func (h *Herald) OnAny(eventTypes []string, d handlers.Descriptor) error {
	return h.registry.OnAny(eventTypes, d)
}

// Table describes every registration and how it will run.
func (h *Herald) Table() []handlers.Entry {
	return h.registry.Table()
}

// Notifications subscribes to the router fallback notifications raised for
// target on the default in-process event bus.
func (h *Herald) Notifications(ctx context.Context, target string) (<-chan *message.Message, error) {
	if h.notifications == nil {
		return nil, errors.New("herald: notifications are delivered to a custom event bus")
	}
	return h.notifications.Subscribe(ctx, NotificationTopicPrefix+target)
}

// Connection returns the cached connection called name (the default one when
// name is empty), opening it on first use. In fake mode every name resolves
// to the fake connection.
func (h *Herald) Connection(ctx context.Context, name string) (transport.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fake != nil {
		return h.fake, nil
	}
	resolved, _, err := h.Conf.Connection(name)
	if err != nil {
		return nil, errspkg.NewConfigurationError(err)
	}
	if conn, ok := h.connections[resolved]; ok {
		return conn, nil
	}
	conn, err := h.open(ctx, resolved)
	if err != nil {
		return nil, err
	}
	h.connections[resolved] = conn
	return conn, nil
}

// OpenConnection opens a connection that is not cached. Each worker loop
// owns one.
func (h *Herald) OpenConnection(ctx context.Context, name string) (transport.Connection, error) {
	resolved, _, err := h.Conf.Connection(name)
	if err != nil {
		return nil, errspkg.NewConfigurationError(err)
	}
	return h.open(ctx, resolved)
}

func (h *Herald) open(ctx context.Context, name string) (transport.Connection, error) {
	_, connConf, err := h.Conf.Connection(name)
	if err != nil {
		return nil, errspkg.NewConfigurationError(err)
	}
	logger := h.Logger.With(loggingpkg.LogFields{"connection": name, "driver": connConf.Driver})
	conn, err := h.transports.Build(ctx, &connConf, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		if errors.Is(err, errspkg.ErrUnsupportedDriver) {
			return nil, errspkg.NewConfigurationError(err)
		}
		return nil, fmt.Errorf("open connection %q: %w", name, err)
	}
	logger.Debug("Connection opened", nil)
	return conn, nil
}

// PublishOption customises a Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	id         string
	connection string
}

// WithID publishes with a caller-chosen message id.
func WithID(id string) PublishOption {
	return func(o *publishOptions) { o.id = id }
}

// WithConnection publishes on the named connection instead of the default.
func WithConnection(name string) PublishOption {
	return func(o *publishOptions) { o.connection = name }
}

// Publish sends an event and returns the message id used.
func (h *Herald) Publish(ctx context.Context, eventType string, payload messages.Payload, opts ...PublishOption) (string, error) {
	if eventType == "" {
		return "", errspkg.ErrEventTypeRequired
	}
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := h.Connection(ctx, o.connection)
	if err != nil {
		return "", err
	}
	id, err := conn.Publish(ctx, eventType, payload, o.id)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", eventType, err)
	}
	h.Logger.Debug("Message published", loggingpkg.LogFields{"message_id": id, "event_type": eventType})
	return id, nil
}

// Close closes every cached connection and the clients owned by h.
func (h *Herald) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, conn := range h.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %q: %w", name, err))
		}
		delete(h.connections, name)
	}
	if h.notifications != nil {
		if err := h.notifications.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.temporal != nil {
		h.temporal.Close()
	}
	return errors.Join(errs...)
}
