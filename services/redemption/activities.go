package redemption

import (
	"context"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/ledger"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Ledger is the hold surface of the points ledger.
type Ledger interface {
	Hold(ctx context.Context, req ledger.HoldRequest) (*ledger.PointsTransaction, error)
	Release(ctx context.Context, tenantID, holdID string) (*ledger.PointsTransaction, error)
	Redeem(ctx context.Context, req ledger.RedeemRequest) (*ledger.PointsTransaction, error)
}

type Activities struct {
	Ledger Ledger
}

type CaptureInput struct {
	Request Request `json:"request"`
	HoldID  string  `json:"holdId"`
}

type ReleaseInput struct {
	TenantID string `json:"tenantId"`
	HoldID   string `json:"holdId"`
}

func holdKey(req Request) string   { return "hold:" + req.IdempotencyKey }
func redeemKey(req Request) string { return "redeem:" + req.IdempotencyKey }

func (a *Activities) PlaceHold(ctx context.Context, req Request) (string, error) {
	t, err := a.Ledger.Hold(ctx, ledger.HoldRequest{
		TenantID:       req.TenantID,
		MembershipID:   req.MembershipID,
		Points:         req.Points,
		RewardID:       req.RewardID,
		IdempotencyKey: holdKey(req),
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	return t.ID, nil
}

func (a *Activities) CaptureHold(ctx context.Context, in CaptureInput) (string, error) {
	t, err := a.Ledger.Redeem(ctx, ledger.RedeemRequest{
		TenantID:       in.Request.TenantID,
		MembershipID:   in.Request.MembershipID,
		RewardID:       in.Request.RewardID,
		HoldID:         in.HoldID,
		IdempotencyKey: redeemKey(in.Request),
		CorrelationID:  in.Request.CorrelationID,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	return t.ID, nil
}

func (a *Activities) ReleaseHold(ctx context.Context, in ReleaseInput) (string, error) {
	t, err := a.Ledger.Release(ctx, in.TenantID, in.HoldID)
	if err != nil {
		return "", classify(ctx, err)
	}
	return t.ID, nil
}

// classify stops Temporal from retrying errors that a retry cannot fix.
func classify(ctx context.Context, err error) error {
	for _, code := range []errutil.CoreStatus{
		errutil.StatusBadRequest,
		errutil.StatusNotFound,
		errutil.StatusConflict,
		errutil.StatusUnprocessableEntity,
	} {
		if errutil.Is(err, code) {
			activity.GetLogger(ctx).Warn("ledger rejected redemption step", "code", string(code), "error", err.Error())
			return temporal.NewNonRetryableApplicationError(err.Error(), string(code), err)
		}
	}
	zap.L().Error("redemption activity failed", zap.Error(err))
	return err
}
