/*
Package runtime wires the pieces of a Herald process together.

# Architecture Overview

A Herald owns the configuration, the handler registry and the broker
connections. Events are published through a cached connection per name;
workers each open a dedicated connection and run a consume, acknowledge,
dispatch loop for one topic.

# Package Structure

## Manager (herald.go)

Herald builds the dispatcher, selects the task facility for deferred handlers
(Temporal when configured, an in-process queue otherwise) and caches
connections built through the transport registry.

## Workers (work.go)

Worker checks that a topic has handlers before opening a connection, then
returns a worker.Loop. Work and Listen run it until the context ends.

## Fake mode (faking.go)

Fake replaces every connection with an in-memory recorder and exposes
AssertPublished, AssertPublishedTimes and AssertNothingPublished.

## HTTP (server.go, webui.go, resources.go)

Serve exposes the handler table, statistics and connection list under /api
and Prometheus metrics on the metrics port.

# Sub-packages

  - config/: configuration, environment loading and validation
  - dispatch/: handler execution, hooks and router fallback notifications
  - errors/: sentinel errors and error types
  - handlers/: handler contract, class catalog and registry
  - ids/: ULID message ids
  - jsoncodec/: JSON encoding
  - logging/: ServiceLogger and Watermill adapters
  - messages/: message model and wire envelope
  - metrics/: Prometheus collectors and snapshots
  - routing/: topic helpers and the static topic router
  - tasks/: deferred execution through Temporal or in process
  - worker/: the consume loop

# Usage Example

	h, err := runtime.New(config.FromEnv(), logger, runtime.Dependencies{})
	if err != nil {
		return err
	}
	_ = h.On("user.created", handlers.Func(sendWelcome))
	return h.Work(ctx, "user", runtime.WorkerOptions{})
*/
package runtime
