package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/herald/internal/runtime/messages"
)

// Kind tags the shape a handler was registered in.
type Kind int

const (
	// KindClass is a reference to a class defined in the Catalog.
	KindClass Kind = iota + 1
	// KindInstance is a pre-built handler value.
	KindInstance
	// KindClosure is a plain function.
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Descriptor is one registered handler. Its kind is fixed by the constructor
// used to build it and never re-derived later.
type Descriptor struct {
	kind     Kind
	class    string
	instance Handler
	fn       HandlerFunc
	deferred bool
}

// Class references a handler class by its Catalog name.
func Class(name string) Descriptor {
	return Descriptor{kind: KindClass, class: name}
}

// Instance wraps a pre-built handler. Whether it carries the Deferred marker
// is recorded here.
func Instance(h Handler) Descriptor {
	return Descriptor{kind: KindInstance, instance: h, deferred: h != nil && IsDeferred(h)}
}

// Func wraps a closure. Closures always run inline.
func Func(fn func(ctx context.Context, msg *messages.Message) error) Descriptor {
	return Descriptor{kind: KindClosure, fn: fn}
}

// Kind returns the descriptor's tag.
func (d Descriptor) Kind() Kind { return d.kind }

// ClassName returns the referenced class name for KindClass descriptors.
func (d Descriptor) ClassName() string { return d.class }

// Handler returns the wrapped value for KindInstance descriptors.
func (d Descriptor) Handler() Handler { return d.instance }

// Closure returns the wrapped function for KindClosure descriptors.
func (d Descriptor) Closure() HandlerFunc { return d.fn }

// InstanceDeferred reports whether an Instance descriptor carries the
// Deferred marker.
func (d Descriptor) InstanceDeferred() bool { return d.deferred }

// IsZero reports whether d was never initialised.
func (d Descriptor) IsZero() bool {
	return d.kind == 0
}

func (d Descriptor) valid() bool {
	switch d.kind {
	case KindClass:
		return d.class != ""
	case KindInstance:
		return d.instance != nil
	case KindClosure:
		return d.fn != nil
	}
	return false
}

// Name is a human readable label used in logs and the handler table.
func (d Descriptor) Name() string {
	switch d.kind {
	case KindClass:
		return d.class
	case KindInstance:
		return typeName(d.instance)
	case KindClosure:
		return "Closure"
	default:
		return "<invalid>"
	}
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
