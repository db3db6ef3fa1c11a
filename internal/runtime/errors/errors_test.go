package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "herald: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "herald: logger is required"},
		{"ErrConnectionRequired", ErrConnectionRequired, "herald: connection is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "herald: handler is required"},
		{"ErrEventTypeRequired", ErrEventTypeRequired, "herald: event type is required"},
		{"ErrUnknownConnection", ErrUnknownConnection, "herald: connection is not configured"},
		{"ErrUnsupportedDriver", ErrUnsupportedDriver, "herald: unsupported connection driver"},
		{"ErrNoHandlersForTopic", ErrNoHandlersForTopic, "herald: no handlers registered for topic"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigurationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigurationError{Err: inner}

	want := "herald: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigurationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigurationError(nil); err != nil {
			t.Errorf("NewConfigurationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wrapped sentinel stays matchable", func(t *testing.T) {
		err := NewConfigurationError(fmt.Errorf("%w: orders", ErrNoHandlersForTopic))

		if !IsConfigurationError(err) {
			t.Fatalf("expected ConfigurationError, got %T", err)
		}
		if !errors.Is(err, ErrNoHandlersForTopic) {
			t.Error("errors.Is should match wrapped sentinel")
		}
	})

	t.Run("plain errors are not configuration errors", func(t *testing.T) {
		if IsConfigurationError(errors.New("boom")) {
			t.Error("plain error reported as configuration error")
		}
	})
}

func TestRegistrationError(t *testing.T) {
	err := &RegistrationError{EventType: "order.created", Handler: "*app.Payment", Err: ErrDeferredInstance}

	if !errors.Is(err, ErrDeferredInstance) {
		t.Fatal("expected RegistrationError to unwrap to ErrDeferredInstance")
	}
	want := `herald: invalid registration of *app.Payment for "order.created": ` + ErrDeferredInstance.Error()
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestHandlerExecutionError(t *testing.T) {
	inner := errors.New("db down")
	err := &HandlerExecutionError{EventType: "user.created", MessageID: "m-1", Handler: "closure#0", Err: inner}

	var execErr *HandlerExecutionError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &execErr) {
		t.Fatal("expected errors.As to find HandlerExecutionError")
	}
	if !errors.Is(err, inner) {
		t.Error("expected unwrap to reach inner error")
	}
	want := "herald: handler closure#0 failed for message m-1 (user.created): db down"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
