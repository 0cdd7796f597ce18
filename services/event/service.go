package event

import (
	"context"
	"errors"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/pkg/task"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	queue    string

	records repository.Repository[Record]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		queue:    p.Config.Loyalty.ProcessQueue,
		records:  repository.ProvideStore[Record](p.DB),
	}
}

// Ingest stores the event once per (tenant, sourceEventId) and schedules it
// for processing. The second return value reports a redelivery.
func (s *Service) Ingest(ctx context.Context, ev Event) (*Record, bool, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", ev.TenantID),
		zap.String("source_event_id", ev.SourceEventID),
	)

	if err := ev.Validate(); err != nil {
		return nil, false, err
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	existing, err := s.records.FindOne(ctx, &Record{TenantID: ev.TenantID, SourceEventID: ev.SourceEventID})
	if err != nil {
		zapLog.Error("failed to query event", zap.Error(err))
		return nil, false, err
	}
	if existing != nil {
		zapLog.Info("event already received", zap.String("event_id", existing.ID))
		return existing, true, nil
	}

	rec := &Record{
		ID:            s.node.Generate().String(),
		TenantID:      ev.TenantID,
		SourceEventID: ev.SourceEventID,
		EventType:     string(ev.EventType),
		MembershipID:  ev.MembershipID,
		OccurredAt:    ev.OccurredAt,
		Event:         datatypes.NewJSONType(ev),
		Status:        StatusReceived,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, ferr := s.records.FindOne(ctx, &Record{TenantID: ev.TenantID, SourceEventID: ev.SourceEventID})
			if ferr == nil && existing != nil {
				return existing, true, nil
			}
		}
		zapLog.Error("failed to store event", zap.Error(err))
		return nil, false, err
	}

	if err := s.enqueue(ctx, rec, span.SpanContext().TraceID().String()); err != nil {
		zapLog.Error("failed to enqueue event", zap.Error(err))
		return nil, false, err
	}

	return rec, false, nil
}

func (s *Service) enqueue(ctx context.Context, rec *Record, traceID string) error {
	if s.enqueuer == nil {
		return nil
	}

	t, err := NewProcessEventTask(ProcessEventPayload{
		TenantID: rec.TenantID,
		EventID:  rec.ID,
		TraceID:  traceID,
	}, s.queue)
	if err != nil {
		return err
	}

	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil && !task.IsDuplicate(err) {
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, eventID string) (*Record, error) {
	rec, err := s.records.FindOne(ctx, &Record{ID: eventID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errutil.NotFound("event not found", nil)
	}
	return rec, nil
}

func (s *Service) MarkProcessed(ctx context.Context, eventID string, procErr error) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       StatusProcessed,
		"processed_at": now,
		"error":        "",
	}
	if procErr != nil {
		updates["status"] = StatusFailed
		updates["error"] = procErr.Error()
	}
	return s.records.Update(ctx, eventID, updates)
}
