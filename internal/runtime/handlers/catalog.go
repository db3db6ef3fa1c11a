package handlers

import (
	"fmt"
	"sort"

	"github.com/alphadose/haxmap"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
)

// Constructor builds a fresh handler instance for one message.
type Constructor func() Handler

// ClassInfo describes a handler type that can be re-constructed by name, which is
// what the task queue needs to run it later in another process.
type ClassInfo struct {
	Name     string
	New      Constructor
	Deferred bool
}

// Catalog maps class names to constructors. It is safe for concurrent use.
type Catalog struct {
	classes *haxmap.Map[string, ClassInfo]
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{classes: haxmap.New[string, ClassInfo]()}
}

// Define registers a class. The deferred marker is resolved here, once, by
// building a sample instance. Redefining a name replaces the previous entry.
func (c *Catalog) Define(name string, ctor Constructor) error {
	if name == "" {
		return errspkg.ErrHandlerClassRequired
	}
	if ctor == nil {
		return fmt.Errorf("%w: %s", errspkg.ErrHandlerRequired, name)
	}
	sample := ctor()
	if sample == nil {
		return fmt.Errorf("%w: constructor for %s returned nil", errspkg.ErrHandlerRequired, name)
	}
	c.classes.Set(name, ClassInfo{Name: name, New: ctor, Deferred: IsDeferred(sample)})
	return nil
}

// MustDefine is like Define but panics on error.
func (c *Catalog) MustDefine(name string, ctor Constructor) {
	if err := c.Define(name, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the class registered under name.
func (c *Catalog) Lookup(name string) (ClassInfo, bool) {
	return c.classes.Get(name)
}

// New constructs a handler for the named class.
func (c *Catalog) New(name string) (Handler, error) {
	info, ok := c.classes.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownHandlerClass, name)
	}
	return info.New(), nil
}

// Names returns the defined class names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, c.classes.Len())
	c.classes.ForEach(func(name string, _ ClassInfo) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
