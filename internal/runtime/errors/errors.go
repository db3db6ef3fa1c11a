package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired       = sterrors.New("herald: configuration is required")
	ErrLoggerRequired       = sterrors.New("herald: logger is required")
	ErrConnectionRequired   = sterrors.New("herald: connection is required")
	ErrRegistryRequired     = sterrors.New("herald: handler registry is required")
	ErrHandlerRequired      = sterrors.New("herald: handler is required")
	ErrEventTypeRequired    = sterrors.New("herald: event type is required")
	ErrHandlerClassRequired = sterrors.New("herald: handler class name is required")
	ErrUnknownHandlerClass  = sterrors.New("herald: handler class is not defined")
	ErrEnqueuerRequired     = sterrors.New("herald: task enqueuer is required for deferred handlers")
	ErrUnknownConnection    = sterrors.New("herald: connection is not configured")
	ErrUnsupportedDriver    = sterrors.New("herald: unsupported connection driver")
	ErrNoHandlersForTopic   = sterrors.New("herald: no handlers registered for topic")
	ErrDeferredInstance     = sterrors.New("herald: deferred handler must be registered as a class reference, not an instance")
	ErrConnectionClosed     = sterrors.New("herald: connection is closed")
	ErrNotFaking            = sterrors.New("herald: fake mode is not enabled")
)

// ConfigurationError marks failures that must stop the process before a worker
// loop starts: unknown connections, unsupported drivers, invalid settings, or a
// topic without handlers.
type ConfigurationError struct {
	Err error
}

func (e ConfigurationError) Error() string {
	return "herald: invalid configuration: " + e.Err.Error()
}

func (e ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err, returning nil when err is nil.
func NewConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigurationError{Err: err}
}

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr ConfigurationError
	return sterrors.As(err, &cfgErr)
}

// RegistrationError is reported at dispatch time when a handler was registered
// in a shape that cannot be executed. The offending handler is skipped.
type RegistrationError struct {
	EventType string
	Handler   string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("herald: invalid registration of %s for %q: %v", e.Handler, e.EventType, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// HandlerExecutionError wraps an error (or recovered panic) raised by a handler
// running inline.
type HandlerExecutionError struct {
	EventType string
	MessageID string
	Handler   string
	Err       error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("herald: handler %s failed for message %s (%s): %v", e.Handler, e.MessageID, e.EventType, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error {
	return e.Err
}
