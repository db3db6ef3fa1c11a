package handlers

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
)

// Mode is how a registered handler will run, as shown by the handler table.
type Mode string

const (
	ModeSync    Mode = "sync"
	ModeQueued  Mode = "queued"
	ModeInvalid Mode = "invalid"
	ModeMissing Mode = "missing"
)

// Entry is one row of the handler table.
type Entry struct {
	Event   string `json:"event"`
	Handler string `json:"handler"`
	Kind    string `json:"kind"`
	Mode    Mode   `json:"mode"`
}

// Registry maps event types to the ordered handlers registered for them.
// Registration order is execution order and duplicates are kept.
//
// Registration is expected to happen at startup; the registry is guarded by
// a mutex but running workers read it without coordination beyond that.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Descriptor
	catalog  *Catalog
}

// NewRegistry returns an empty registry backed by catalog. A nil catalog gets
// a fresh one.
func NewRegistry(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Registry{
		handlers: make(map[string][]Descriptor),
		catalog:  catalog,
	}
}

// Catalog returns the class catalog used to resolve Class descriptors.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Define registers a handler class with the registry's catalog.
func (r *Registry) Define(name string, ctor Constructor) error {
	return r.catalog.Define(name, ctor)
}

// On appends d to the handlers of eventType.
func (r *Registry) On(eventType string, d Descriptor) error {
	if eventType == "" {
		return errspkg.ErrEventTypeRequired
	}
	if !d.valid() {
		return fmt.Errorf("%w for %q", errspkg.ErrHandlerRequired, eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], d)
	return nil
}

// OnAny registers d for each of eventTypes. It stops at the first invalid
// event type; earlier registrations are kept.
func (r *Registry) OnAny(eventTypes []string, d Descriptor) error {
	for _, eventType := range eventTypes {
		if err := r.On(eventType, d); err != nil {
			return err
		}
	}
	return nil
}

// Handlers returns a copy of the handlers registered for eventType.
func (r *Registry) Handlers(eventType string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.handlers[eventType]
	out := make([]Descriptor, len(registered))
	copy(out, registered)
	return out
}

// HasHandlers reports whether at least one handler is registered for eventType.
func (r *Registry) HasHandlers(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType]) > 0
}

// EventTypes returns every event type with at least one handler, sorted.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType, registered := range r.handlers {
		if len(registered) > 0 {
			types = append(types, eventType)
		}
	}
	sort.Strings(types)
	return types
}

// Clear removes every registration. Defined classes are kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]Descriptor)
}

// ModeOf reports how d would be executed.
func (r *Registry) ModeOf(d Descriptor) Mode {
	switch d.Kind() {
	case KindClosure:
		return ModeSync
	case KindInstance:
		if d.InstanceDeferred() {
			return ModeInvalid
		}
		return ModeSync
	case KindClass:
		info, ok := r.catalog.Lookup(d.ClassName())
		if !ok {
			return ModeMissing
		}
		if info.Deferred {
			return ModeQueued
		}
		return ModeSync
	default:
		return ModeInvalid
	}
}

// Table lists every registration, ordered by event type and then by
// registration order.
func (r *Registry) Table() []Entry {
	var rows []Entry
	for _, eventType := range r.EventTypes() {
		for _, d := range r.Handlers(eventType) {
			rows = append(rows, Entry{
				Event:   eventType,
				Handler: d.Name(),
				Kind:    d.Kind().String(),
				Mode:    r.ModeOf(d),
			})
		}
	}
	return rows
}
