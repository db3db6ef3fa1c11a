package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	"github.com/drblury/herald/internal/runtime/messages"
)

type recorder struct {
	mu   sync.Mutex
	seen []*messages.Message
}

func (r *recorder) record(msg *messages.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, msg)
}

func (r *recorder) messages() []*messages.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*messages.Message(nil), r.seen...)
}

type chargeCard struct {
	handlers.Queued
	rec *recorder
	err error
}

func (h *chargeCard) Handle(_ context.Context, msg *messages.Message) error {
	h.rec.record(msg)
	return h.err
}

func newCatalog(rec *recorder, err error) *handlers.Catalog {
	c := handlers.NewCatalog()
	c.MustDefine("ChargeCard", func() handlers.Handler { return &chargeCard{rec: rec, err: err} })
	return c
}

func TestNewTaskDetaches(t *testing.T) {
	msg := messages.New("m-1", "order.paid", messages.NewPayload("amount", 10), "delivery-tag")
	task := NewTask("ChargeCard", msg)

	assert.Equal(t, Task{Class: "ChargeCard", ID: "m-1", Type: "order.paid", Payload: msg.Payload}, task)
	rebuilt := task.Message()
	assert.Nil(t, rebuilt.Raw)
	assert.Equal(t, "m-1", rebuilt.ID)
	assert.Equal(t, 10, rebuilt.Payload.Value("amount"))
}

func TestTaskRun(t *testing.T) {
	rec := &recorder{}
	task := NewTask("ChargeCard", messages.New("m-1", "order.paid", messages.NewPayload(), nil))

	require.NoError(t, task.Run(context.Background(), newCatalog(rec, nil)))
	assert.Len(t, rec.messages(), 1)

	err := Task{Class: "Ghost"}.Run(context.Background(), newCatalog(rec, nil))
	assert.ErrorIs(t, err, errspkg.ErrUnknownHandlerClass)

	assert.ErrorIs(t, task.Run(context.Background(), nil), errspkg.ErrRegistryRequired)
}

func TestMemoryQueue(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(newCatalog(rec, nil), nil)

	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-1", "order.paid", messages.NewPayload(), "raw")))
	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-2", "order.paid", messages.NewPayload(), "raw")))
	assert.Len(t, q.Pending(), 2)
	assert.Empty(t, rec.messages(), "nothing runs until RunPending")

	require.NoError(t, q.RunPending(context.Background()))
	assert.Empty(t, q.Pending())

	seen := rec.messages()
	require.Len(t, seen, 2)
	assert.Equal(t, "m-1", seen[0].ID)
	assert.Equal(t, "m-2", seen[1].ID)
	assert.Nil(t, seen[0].Raw)

	assert.Error(t, q.Enqueue(context.Background(), "ChargeCard", nil))
}

func TestMemoryQueueJoinsFailures(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("card declined")
	q := NewMemoryQueue(newCatalog(rec, boom), nil)

	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-1", "order.paid", messages.NewPayload(), nil)))
	require.NoError(t, q.Enqueue(context.Background(), "Ghost", messages.New("m-2", "order.paid", messages.NewPayload(), nil)))

	err := q.RunPending(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errspkg.ErrUnknownHandlerClass)
	assert.Len(t, rec.messages(), 1)
}

func TestMemoryQueueDrainRunsTasksAsTheyArrive(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(newCatalog(rec, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Drain(ctx)
	}()

	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-1", "order.paid", messages.NewPayload(), nil)))
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, q.Pending())

	cancel()
	<-done
}

func TestMemoryQueueDrainFlushesOnStop(t *testing.T) {
	rec := &recorder{}
	q := NewMemoryQueue(newCatalog(rec, nil), nil)

	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-1", "order.paid", messages.NewPayload(), nil)))
	require.NoError(t, q.Enqueue(context.Background(), "ChargeCard", messages.New("m-2", "order.paid", messages.NewPayload(), nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Drain(ctx)

	assert.Len(t, rec.messages(), 2)
	assert.Empty(t, q.Pending())
}
