package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the expiry surface of the points ledger.
type Ledger interface {
	TenantsWithExpiredCredits(ctx context.Context, now time.Time) ([]string, error)
	ExpireDue(ctx context.Context, tenantID string, now time.Time) (int, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	ledger   Ledger
	clock    clock.Clock
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
	Ledger   Ledger
	Clock    clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		ledger:   p.Ledger,
		clock:    p.Clock,
	}
}

// NewTenantTask builds the per-tenant sweep task. The task id pins one sweep
// per tenant per day.
func NewTenantTask(p TenantPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LoyaltyExpiryTenant, payload,
		asynq.TaskID(fmt.Sprintf("expiry:%s:%s", p.TenantID, p.AsOf.Format("20060102"))),
		asynq.Queue("low"),
		asynq.MaxRetry(5),
	), nil
}

// EnqueueAllTenants fans the daily run out to one task per tenant with
// expired credits. A tenant already enqueued today is skipped.
func (s *Service) EnqueueAllTenants(ctx context.Context) (int, error) {
	if s.enqueuer == nil {
		return 0, fmt.Errorf("expiry: no task enqueuer configured")
	}
	now := s.clock.Now()
	tenants, err := s.ledger.TenantsWithExpiredCredits(ctx, now)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, tenantID := range tenants {
		t, err := NewTenantTask(TenantPayload{TenantID: tenantID, AsOf: now})
		if err != nil {
			return enqueued, err
		}
		if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
			if task.IsDuplicate(err) {
				continue
			}
			zap.L().Error("failed enqueue expiry job", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		enqueued++
	}

	zap.L().Info("finished enqueue all expiry jobs",
		zap.Int("tenants", len(tenants)),
		zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// RunTenant sweeps one tenant and records the run as a Job.
func (s *Service) RunTenant(ctx context.Context, tenantID string, asOf time.Time) (*Job, error) {
	started := s.clock.Now()
	if asOf.IsZero() {
		asOf = started
	}
	job := &Job{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Status:    JobRunning,
		AsOf:      asOf,
		StartedAt: &started,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}

	n, runErr := s.ledger.ExpireDue(ctx, tenantID, asOf)
	completed := s.clock.Now()
	updates := map[string]any{
		"expired":      n,
		"completed_at": completed,
		"status":       JobSuccess,
	}
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
	}
	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to update expiry job", zap.String("job_id", job.ID), zap.Error(err))
	}

	job.Expired = n
	job.CompletedAt = &completed
	job.Status = updates["status"].(JobStatus)
	if runErr != nil {
		job.ErrorMsg = runErr.Error()
		return job, runErr
	}

	zap.L().Info("expiry job finished",
		zap.String("tenant_id", tenantID),
		zap.String("job_id", job.ID),
		zap.Int("expired", n))
	return job, nil
}

// HandleRunTask is the daily fan-out entrypoint.
func (s *Service) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	_, err := s.EnqueueAllTenants(ctx)
	return err
}

func (s *Service) HandleTenantTask(ctx context.Context, t *asynq.Task) error {
	var payload TenantPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid expiry payload", zap.Error(err))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TenantID == "" {
		return fmt.Errorf("missing tenant_id: %w", asynq.SkipRetry)
	}

	zap.L().Info("processing expiry task", zap.String("tenant_id", payload.TenantID))
	if _, err := s.RunTenant(ctx, payload.TenantID, payload.AsOf); err != nil {
		zap.L().Error("failed to process expiry job",
			zap.String("tenant_id", payload.TenantID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
