// Package tasks hands deferred handler executions to a task facility. The
// facility owns retries and scheduling; Herald only enqueues a class name
// together with a detached copy of the message.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	"github.com/drblury/herald/internal/runtime/messages"
)

// Task is the serialisable unit of deferred work.
type Task struct {
	Class   string           `json:"class"`
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Payload messages.Payload `json:"payload"`
}

// NewTask builds a Task from msg. The transport handle is never carried over.
func NewTask(class string, msg *messages.Message) Task {
	detached := msg.Detach()
	return Task{Class: class, ID: detached.ID, Type: detached.Type, Payload: detached.Payload}
}

// Message rebuilds the message the task was created from.
func (t Task) Message() *messages.Message {
	return messages.New(t.ID, t.Type, t.Payload, nil)
}

// Run constructs the task's handler from catalog and calls it.
func (t Task) Run(ctx context.Context, catalog *handlers.Catalog) error {
	if catalog == nil {
		return errspkg.ErrRegistryRequired
	}
	h, err := catalog.New(t.Class)
	if err != nil {
		return err
	}
	return h.Handle(ctx, t.Message())
}

// Enqueuer accepts deferred handler executions.
type Enqueuer interface {
	Enqueue(ctx context.Context, class string, msg *messages.Message) error
}

// MemoryQueue keeps tasks in process until RunPending executes them. It backs
// tests and setups without a task facility; Drain runs queued tasks in the
// background while a worker is up.
type MemoryQueue struct {
	catalog *handlers.Catalog
	logger  watermill.LoggerAdapter
	ready   chan struct{}

	mu      sync.Mutex
	pending []Task
}

// NewMemoryQueue returns an empty queue resolving classes through catalog.
func NewMemoryQueue(catalog *handlers.Catalog, logger watermill.LoggerAdapter) *MemoryQueue {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &MemoryQueue{catalog: catalog, logger: logger, ready: make(chan struct{}, 1)}
}

// Enqueue appends a task.
func (q *MemoryQueue) Enqueue(_ context.Context, class string, msg *messages.Message) error {
	if msg == nil {
		return fmt.Errorf("herald: cannot enqueue %s without a message", class)
	}
	q.mu.Lock()
	q.pending = append(q.pending, NewTask(class, msg))
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns a snapshot of the queued tasks.
func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.pending))
	copy(out, q.pending)
	return out
}

// RunPending executes and removes every queued task in order. Failures are
// logged and joined into the returned error.
func (q *MemoryQueue) RunPending(ctx context.Context) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	var errs []error
	for _, task := range batch {
		if err := task.Run(ctx, q.catalog); err != nil {
			q.logger.Error("Deferred handler failed", err, watermill.LogFields{
				"class":      task.Class,
				"message_id": task.ID,
				"event_type": task.Type,
			})
			errs = append(errs, fmt.Errorf("%s(%s): %w", task.Class, task.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Drain runs queued tasks as they arrive until ctx is done, then runs what is
// still queued with a context that is no longer cancelled. Several Drain calls
// may share one queue; every task runs once.
func (q *MemoryQueue) Drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = q.RunPending(context.WithoutCancel(ctx))
			return
		case <-q.ready:
			_ = q.RunPending(ctx)
		}
	}
}
