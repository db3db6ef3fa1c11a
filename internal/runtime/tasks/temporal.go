package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	"github.com/drblury/herald/internal/runtime/messages"
)

// Registered names of the Temporal workflow and activity running deferred
// handlers.
const (
	WorkflowName = "herald.RunDeferredHandler"
	ActivityName = "herald.HandleMessage"
)

// DefaultActivityTimeout bounds a single handler attempt.
const DefaultActivityTimeout = 5 * time.Minute

// NewTemporalClient creates a lazily connecting Temporal client logging
// through logger.
func NewTemporalClient(hostPort, namespace string, logger *slog.Logger) (client.Client, error) {
	if hostPort == "" {
		hostPort = client.DefaultHostPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl, err := client.NewLazyClient(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    log.NewStructuredLogger(logger.With("component", "herald.temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return cl, nil
}

// TemporalEnqueuer starts one workflow per deferred handler execution.
type TemporalEnqueuer struct {
	client    client.Client
	taskQueue string
}

// NewTemporalEnqueuer returns an Enqueuer that schedules work on taskQueue.
func NewTemporalEnqueuer(c client.Client, taskQueue string) *TemporalEnqueuer {
	return &TemporalEnqueuer{client: c, taskQueue: taskQueue}
}

// Enqueue starts the workflow without waiting for it. The workflow id is
// derived from class and message id so redeliveries are de-duplicated by
// Temporal.
func (e *TemporalEnqueuer) Enqueue(ctx context.Context, class string, msg *messages.Message) error {
	task := NewTask(class, msg)
	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(task),
		TaskQueue: e.taskQueue,
	}, WorkflowName, task)
	if err != nil {
		return fmt.Errorf("failed to start deferred handler %s: %w", class, err)
	}
	return nil
}

// WorkflowID is the Temporal workflow id used for task.
func WorkflowID(task Task) string {
	return fmt.Sprintf("herald-%s-%s", task.Class, task.ID)
}

// RunDeferredHandler is the workflow: it runs the handler as one activity with
// Temporal owning the retry policy.
func RunDeferredHandler(ctx workflow.Context, task Task) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	})
	return workflow.ExecuteActivity(ctx, ActivityName, task).Get(ctx, nil)
}

// Activities executes deferred handlers inside a Temporal worker.
type Activities struct {
	Catalog *handlers.Catalog
}

// HandleMessage constructs the task's class and calls Handle. Unknown classes
// fail without retry.
func (a *Activities) HandleMessage(ctx context.Context, task Task) error {
	activity.GetLogger(ctx).Info("Running deferred handler", "class", task.Class, "message_id", task.ID, "event_type", task.Type)
	err := task.Run(ctx, a.Catalog)
	if errors.Is(err, errspkg.ErrUnknownHandlerClass) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "UnknownHandlerClass", err)
	}
	return err
}

// Registrar is satisfied by a Temporal worker and by the SDK test
// environments.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// RegisterTemporalWorker registers the workflow and activity on w.
func RegisterTemporalWorker(w Registrar, catalog *handlers.Catalog) {
	w.RegisterWorkflowWithOptions(RunDeferredHandler, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions((&Activities{Catalog: catalog}).HandleMessage, activity.RegisterOptions{Name: ActivityName})
}
