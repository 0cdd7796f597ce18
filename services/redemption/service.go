package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/workflow"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	client  client.Client
	queue   string
	timeout time.Duration
}

type ServiceParams struct {
	fx.In

	Client client.Client
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{client: p.Client, queue: workflow.REDEMPTION_TASK_QUEUE.String(), timeout: p.Config.Loyalty.HoldTimeout}
}

func (s *Service) validate(req Request) error {
	var f errutil.Fields
	if strings.TrimSpace(req.MembershipID) == "" {
		f.Add("membershipId", "required")
	}
	if strings.TrimSpace(req.RewardID) == "" {
		f.Add("rewardId", "required")
	}
	if req.Points <= 0 {
		f.Add("points", "must be > 0")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		f.Add("idempotencyKey", "required")
	}
	return f.Err(errutil.StatusBadRequest, "invalid redemption")
}

// Start launches the redemption workflow. Starting twice with the same key
// returns the running workflow.
func (s *Service) Start(ctx context.Context, req Request) (*State, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.HoldTimeout <= 0 {
		req.HoldTimeout = s.timeout
	}

	id := WorkflowID(req.TenantID, req.IdempotencyKey)
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.queue,
	}, WorkflowName, req)
	if err != nil {
		zap.L().Error("failed to start redemption", zap.String("workflow_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to start redemption", err)
	}

	zap.L().Info("redemption started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("tenant_id", req.TenantID),
		zap.String("membership_id", req.MembershipID))
	return &State{WorkflowID: run.GetID(), Status: StatusPending}, nil
}

func (s *Service) Confirm(ctx context.Context, tenantID, key string) error {
	return s.signal(ctx, tenantID, key, Decision{Confirm: true})
}

func (s *Service) Cancel(ctx context.Context, tenantID, key, why string) error {
	return s.signal(ctx, tenantID, key, Decision{Reason: why})
}

func (s *Service) signal(ctx context.Context, tenantID, key string, d Decision) error {
	err := s.client.SignalWorkflow(ctx, WorkflowID(tenantID, key), "", SignalDecision, d)
	return mapNotFound(err)
}

func (s *Service) State(ctx context.Context, tenantID, key string) (*State, error) {
	v, err := s.client.QueryWorkflow(ctx, WorkflowID(tenantID, key), "", QueryState)
	if err != nil {
		return nil, mapNotFound(err)
	}
	var st State
	if err := v.Get(&st); err != nil {
		return nil, errutil.Internal("failed to decode redemption state", err)
	}
	return &st, nil
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return errutil.NotFound("redemption not found", err)
	}
	return errutil.Internal("redemption workflow call failed", err)
}
