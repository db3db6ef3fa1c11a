package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/messages"
)

type sendWelcomeEmail struct{}

func (sendWelcomeEmail) Handle(context.Context, *messages.Message) error { return nil }

type chargeCard struct {
	Queued
}

func (chargeCard) Handle(context.Context, *messages.Message) error { return nil }

func noop(context.Context, *messages.Message) error { return nil }

func TestIsDeferred(t *testing.T) {
	assert.False(t, IsDeferred(sendWelcomeEmail{}))
	assert.True(t, IsDeferred(chargeCard{}))
	assert.True(t, IsDeferred(&chargeCard{}))
	assert.False(t, IsDeferred(HandlerFunc(noop)))
}

func TestDescriptorKinds(t *testing.T) {
	class := Class("SendWelcomeEmail")
	assert.Equal(t, KindClass, class.Kind())
	assert.Equal(t, "SendWelcomeEmail", class.Name())

	instance := Instance(&chargeCard{})
	assert.Equal(t, KindInstance, instance.Kind())
	assert.True(t, instance.InstanceDeferred())
	assert.Equal(t, "*handlers.chargeCard", instance.Name())

	closure := Func(noop)
	assert.Equal(t, KindClosure, closure.Kind())
	assert.NotNil(t, closure.Closure())
	assert.Equal(t, "Closure", closure.Name())

	assert.True(t, Descriptor{}.IsZero())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Define("ChargeCard", func() Handler { return &chargeCard{} }))
	require.NoError(t, c.Define("SendWelcomeEmail", func() Handler { return sendWelcomeEmail{} }))

	info, ok := c.Lookup("ChargeCard")
	require.True(t, ok)
	assert.True(t, info.Deferred)

	info, ok = c.Lookup("SendWelcomeEmail")
	require.True(t, ok)
	assert.False(t, info.Deferred)

	h, err := c.New("SendWelcomeEmail")
	require.NoError(t, err)
	assert.IsType(t, sendWelcomeEmail{}, h)

	_, err = c.New("Nope")
	assert.ErrorIs(t, err, errspkg.ErrUnknownHandlerClass)

	assert.Equal(t, []string{"ChargeCard", "SendWelcomeEmail"}, c.Names())
}

func TestCatalogDefineErrors(t *testing.T) {
	c := NewCatalog()
	assert.ErrorIs(t, c.Define("", func() Handler { return sendWelcomeEmail{} }), errspkg.ErrHandlerClassRequired)
	assert.ErrorIs(t, c.Define("X", nil), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, c.Define("X", func() Handler { return nil }), errspkg.ErrHandlerRequired)
	assert.Panics(t, func() { c.MustDefine("", nil) })
}

func TestRegistryPreservesOrderAndDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.On("user.created", Class("A")))
	require.NoError(t, r.On("user.created", Func(noop)))
	require.NoError(t, r.On("user.created", Class("A")))

	got := r.Handlers("user.created")
	require.Len(t, got, 3)
	assert.Equal(t, KindClass, got[0].Kind())
	assert.Equal(t, KindClosure, got[1].Kind())
	assert.Equal(t, KindClass, got[2].Kind())
}

func TestRegistryHandlersIsSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.On("user.created", Class("A")))

	snapshot := r.Handlers("user.created")
	require.NoError(t, r.On("user.created", Class("B")))

	assert.Len(t, snapshot, 1)
	assert.Len(t, r.Handlers("user.created"), 2)
	assert.Empty(t, r.Handlers("user.deleted"))
	assert.NotNil(t, r.Handlers("user.deleted"))
}

func TestRegistryOnAny(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.OnAny([]string{"order.created", "order.paid"}, Class("Audit")))

	assert.Equal(t, []string{"order.created", "order.paid"}, r.EventTypes())
	assert.True(t, r.HasHandlers("order.paid"))

	err := r.OnAny([]string{"order.shipped", ""}, Class("Audit"))
	assert.ErrorIs(t, err, errspkg.ErrEventTypeRequired)
	assert.True(t, r.HasHandlers("order.shipped"))
}

func TestRegistryRejectsInvalidDescriptors(t *testing.T) {
	r := NewRegistry(nil)
	assert.ErrorIs(t, r.On("a.b", Descriptor{}), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, r.On("a.b", Class("")), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, r.On("a.b", Instance(nil)), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, r.On("a.b", Func(nil)), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, r.On("", Func(noop)), errspkg.ErrEventTypeRequired)
	assert.Empty(t, r.EventTypes())
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Define("A", func() Handler { return sendWelcomeEmail{} }))
	require.NoError(t, r.On("user.created", Class("A")))

	r.Clear()

	assert.Empty(t, r.EventTypes())
	assert.Empty(t, r.Handlers("user.created"))
	_, ok := r.Catalog().Lookup("A")
	assert.True(t, ok, "classes survive Clear")
}

func TestRegistryTable(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Define("ChargeCard", func() Handler { return &chargeCard{} }))
	require.NoError(t, r.Define("SendWelcomeEmail", func() Handler { return sendWelcomeEmail{} }))

	require.NoError(t, r.On("user.created", Class("SendWelcomeEmail")))
	require.NoError(t, r.On("user.created", Func(noop)))
	require.NoError(t, r.On("order.paid", Class("ChargeCard")))
	require.NoError(t, r.On("order.paid", Instance(&chargeCard{})))
	require.NoError(t, r.On("order.paid", Instance(sendWelcomeEmail{})))
	require.NoError(t, r.On("order.paid", Class("Ghost")))

	assert.Equal(t, []Entry{
		{Event: "order.paid", Handler: "ChargeCard", Kind: "class", Mode: ModeQueued},
		{Event: "order.paid", Handler: "*handlers.chargeCard", Kind: "instance", Mode: ModeInvalid},
		{Event: "order.paid", Handler: "handlers.sendWelcomeEmail", Kind: "instance", Mode: ModeSync},
		{Event: "order.paid", Handler: "Ghost", Kind: "class", Mode: ModeMissing},
		{Event: "user.created", Handler: "SendWelcomeEmail", Kind: "class", Mode: ModeSync},
		{Event: "user.created", Handler: "Closure", Kind: "closure", Mode: ModeSync},
	}, r.Table())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.On("user.created", Func(noop))
		}()
		go func() {
			defer wg.Done()
			_ = r.Handlers("user.created")
		}()
	}
	wg.Wait()
	assert.Len(t, r.Handlers("user.created"), 20)
}
