package runtime

import (
	"context"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/internal/runtime/worker"
	"github.com/drblury/herald/transport"
	"github.com/drblury/herald/transport/fake"
)

// WorkerOptions selects the connection and verbosity of a worker.
type WorkerOptions struct {
	// Connection names the connection to consume; empty uses the default.
	Connection string
	Verbose    bool
}

// Worker checks that topic has handlers, opens a dedicated connection and
// returns a loop ready to Run. While faking, the loop consumes the fake
// connection instead. Deferred handlers queued in memory run while the loop
// runs.
func (h *Herald) Worker(ctx context.Context, topic string, opts WorkerOptions) (*worker.Loop, error) {
	if err := worker.CheckTopic(h.registry, h.router, topic); err != nil {
		return nil, err
	}

	name, conn, err := h.workerConnection(ctx, opts.Connection)
	if err != nil {
		return nil, err
	}

	var drainer worker.Drainer
	if h.memQueue != nil {
		drainer = h.memQueue
	}

	loop, err := worker.New(worker.Options{
		Connection:     conn,
		ConnectionName: name,
		Topic:          topic,
		Registry:       h.registry,
		Router:         h.router,
		Dispatcher:     h.dispatcher,
		Logger:         h.Logger,
		Metrics:        h.metrics,
		IdleSleep:      h.Conf.IdleSleep,
		ErrorBackoff:   h.Conf.ErrorBackoff,
		Verbose:        opts.Verbose,
		Drainer:        drainer,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return loop, nil
}

// Work runs one worker loop on topic until ctx is cancelled.
func (h *Herald) Work(ctx context.Context, topic string, opts WorkerOptions) error {
	loop, err := h.Worker(ctx, topic, opts)
	if err != nil {
		return err
	}
	return loop.Run(ctx)
}

// Listen works every topic.
func (h *Herald) Listen(ctx context.Context, opts WorkerOptions) error {
	return h.Work(ctx, routing.AllTopicsHash, opts)
}

func (h *Herald) workerConnection(ctx context.Context, name string) (string, transport.Connection, error) {
	if rec := h.recorder(); rec != nil {
		return fake.TransportName, rec, nil
	}
	resolved, _, err := h.Conf.Connection(name)
	if err != nil {
		return "", nil, errspkg.NewConfigurationError(err)
	}
	conn, err := h.OpenConnection(ctx, resolved)
	if err != nil {
		return "", nil, err
	}
	return resolved, conn, nil
}
