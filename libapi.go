package herald

import (
	runtimepkg "github.com/drblury/herald/internal/runtime"
	configpkg "github.com/drblury/herald/internal/runtime/config"
	"github.com/drblury/herald/internal/runtime/dispatch"
	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	idspkg "github.com/drblury/herald/internal/runtime/ids"
	"github.com/drblury/herald/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/herald/internal/runtime/logging"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/internal/runtime/metrics"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/internal/runtime/tasks"
	"github.com/drblury/herald/internal/runtime/worker"
	"github.com/drblury/herald/transport"

	// Register every built-in driver with transport.DefaultRegistry.
	_ "github.com/drblury/herald/transport/transports"
)

type (
	Herald           = runtimepkg.Herald
	Dependencies     = runtimepkg.Dependencies
	WorkerOptions    = runtimepkg.WorkerOptions
	PublishOption    = runtimepkg.PublishOption
	StatsResponse    = runtimepkg.StatsResponse
	ConnectionInfo   = runtimepkg.ConnectionInfo
	Config           = configpkg.Config
	ConnectionConfig = configpkg.ConnectionConfig

	Message = messages.Message
	Payload = messages.Payload

	Handler     = handlers.Handler
	HandlerFunc = handlers.HandlerFunc
	Deferred    = handlers.Deferred
	Queued      = handlers.Queued
	Constructor = handlers.Constructor
	Descriptor  = handlers.Descriptor
	Registry    = handlers.Registry
	Catalog     = handlers.Catalog
	Entry       = handlers.Entry
	Mode        = handlers.Mode

	Dispatcher      = dispatch.Dispatcher
	DispatchResult  = dispatch.Result
	Hooks           = dispatch.Hooks
	HandlerContext  = dispatch.HandlerContext
	EventBus        = dispatch.EventBus
	EventBusFunc    = dispatch.EventBusFunc
	EventDispatched = dispatch.EventDispatched

	TopicRouter = routing.TopicRouter
	Worker      = worker.Loop
	WorkerState = worker.State

	Task     = tasks.Task
	Enqueuer = tasks.Enqueuer

	WorkerMetrics = metrics.WorkerMetrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Connection        = transport.Connection
	TopicBinder       = transport.TopicBinder
	TransportBuilder  = transport.Builder
	TransportConfig   = transport.Config
	TransportRegistry = transport.Registry
	Capabilities      = transport.Capabilities

	ConfigurationError    = errspkg.ConfigurationError
	RegistrationError     = errspkg.RegistrationError
	HandlerExecutionError = errspkg.HandlerExecutionError
)

// Handler modes shown by the handler table.
const (
	ModeSync    = handlers.ModeSync
	ModeQueued  = handlers.ModeQueued
	ModeInvalid = handlers.ModeInvalid
	ModeMissing = handlers.ModeMissing
)

// Driver names understood by the built-in transports.
const (
	DriverRabbitMQ  = configpkg.DriverRabbitMQ
	DriverRedis     = configpkg.DriverRedis
	DriverJetStream = configpkg.DriverJetStream
	DriverFake      = configpkg.DriverFake
	DriverChannel   = configpkg.DriverChannel
	DriverKafka     = configpkg.DriverKafka
	DriverNATS      = configpkg.DriverNATS
	DriverAWS       = configpkg.DriverAWS
	DriverHTTP      = configpkg.DriverHTTP
)

var (
	New     = runtimepkg.New
	MustNew = runtimepkg.MustNew

	WithID         = runtimepkg.WithID
	WithConnection = runtimepkg.WithConnection

	DefaultConfig  = configpkg.Default
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	Class       = handlers.Class
	Instance    = handlers.Instance
	Func        = handlers.Func
	NewRegistry = handlers.NewRegistry
	NewCatalog  = handlers.NewCatalog
	IsDeferred  = handlers.IsDeferred

	NewPayload     = messages.NewPayload
	PayloadFromMap = messages.PayloadFromMap
	NewMessage     = messages.New

	NewTopicRouter = routing.NewTopicRouter
	TopicOf        = routing.TopicOf
	InTopic        = routing.InTopic

	NewMemoryQueue         = tasks.NewMemoryQueue
	NewTemporalClient      = tasks.NewTemporalClient
	NewTemporalEnqueuer    = tasks.NewTemporalEnqueuer
	RegisterTemporalWorker = tasks.RegisterTemporalWorker

	LoggingHooks = dispatch.LoggingHooks
	MetricsHooks = dispatch.MetricsHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewConsoleServiceLogger   = loggingpkg.NewConsoleServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopLogger              = loggingpkg.NewNopLogger

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities
	ErrTimeout               = transport.ErrTimeout

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	CreateULID   = idspkg.CreateULID
	NewMessageID = idspkg.NewMessageID

	IsConfigurationError = errspkg.IsConfigurationError

	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrEventTypeRequired   = errspkg.ErrEventTypeRequired
	ErrUnknownHandlerClass = errspkg.ErrUnknownHandlerClass
	ErrEnqueuerRequired    = errspkg.ErrEnqueuerRequired
	ErrUnknownConnection   = errspkg.ErrUnknownConnection
	ErrUnsupportedDriver   = errspkg.ErrUnsupportedDriver
	ErrNoHandlersForTopic  = errspkg.ErrNoHandlersForTopic
	ErrDeferredInstance    = errspkg.ErrDeferredInstance
	ErrNotFaking           = errspkg.ErrNotFaking
)
