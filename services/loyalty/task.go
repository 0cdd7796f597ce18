package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/services/event"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.loyalty",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandlers),
)

// Events is the intake store the worker reads events from.
type Events interface {
	Get(ctx context.Context, tenantID, eventID string) (*event.Record, error)
	MarkProcessed(ctx context.Context, eventID string, procErr error) error
}

type Task struct {
	engine *Engine
	events Events
}

type TaskParams struct {
	fx.In

	Engine *Engine
	Events *event.Service
}

func NewTask(p TaskParams) *Task {
	return &Task{engine: p.Engine, events: p.Events}
}

func registerTaskHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.LoyaltyProcessEvent, t.HandleProcessEventTask)
}

// HandleProcessEventTask evaluates one stored event. Transient failures are
// retried by asynq; integrity violations and unknown events are not.
func (s *Task) HandleProcessEventTask(ctx context.Context, t *asynq.Task) error {
	var payload event.ProcessEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("tenant_id", payload.TenantID),
		zap.String("event_id", payload.EventID),
		zap.String("trace_id", payload.TraceID),
	)

	rec, err := s.events.Get(ctx, payload.TenantID, payload.EventID)
	if err != nil {
		if errutil.Is(err, errutil.StatusNotFound) {
			zapLog.Warn("event not found, dropping task")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if rec.Status == event.StatusProcessed {
		zapLog.Info("event already processed")
		return nil
	}

	res, err := s.engine.ProcessEvent(ctx, rec.Event.Data())
	if err != nil {
		if errors.Is(err, ErrIntegrity) || errutil.Is(err, errutil.StatusBadRequest) {
			if merr := s.events.MarkProcessed(ctx, rec.ID, err); merr != nil {
				zapLog.Error("failed to mark event failed", zap.Error(merr))
			}
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if err := s.events.MarkProcessed(ctx, rec.ID, nil); err != nil {
		zapLog.Error("failed to mark event processed", zap.Error(err))
		return err
	}

	zapLog.Info("event task done",
		zap.Int("transactions_created", len(res.TransactionsCreated)),
		zap.Int64("total_points", res.TotalPointsAwarded))
	return nil
}
