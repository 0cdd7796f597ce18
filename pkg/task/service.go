package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrDuplicate means a task with the same id or uniqueness key is already
// queued. Callers that dedupe by task id treat it as success.
var ErrDuplicate = errors.New("task_already_enqueued")

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
	tracer trace.Tracer
}

// NewEnqueuer creates a new Enqueuer instance using asynq.Client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client, tracer: otel.Tracer("smallbiznis-loyalty/task")}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	ctx, span := e.tracer.Start(ctx, "enqueue "+task.Type(), trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if IsDuplicate(err) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return nil, fmt.Errorf("failed to enqueue task %s: %w", task.Type(), err)
	}

	span.SetAttributes(
		attribute.String("task.id", info.ID),
		attribute.String("task.queue", info.Queue),
	)
	return info, nil
}

// IsDuplicate reports whether err means the task was already queued.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) ||
		errors.Is(err, asynq.ErrTaskIDConflict) ||
		errors.Is(err, asynq.ErrDuplicateTask)
}
