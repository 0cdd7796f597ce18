package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func expirationKey(earningID string) string { return "expiration:" + earningID }

// ExpireDue writes EXPIRATION rows for every expired EARNING remainder of the
// tenant and returns how many rows were created. Memberships are processed
// concurrently; each one is appended in its own transaction.
func (s *Service) ExpireDue(ctx context.Context, tenantID string, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "ledger.ExpireDue")
	defer span.End()

	memberships, err := s.store.MembershipsWithExpiredCredits(ctx, tenantID, now)
	if err != nil {
		return 0, err
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, membershipID := range memberships {
		g.Go(func() error {
			n, err := s.expireMembership(gctx, tenantID, membershipID, now)
			if err != nil {
				logFields(gctx, zap.String("tenant_id", tenantID), zap.String("membership_id", membershipID)).
					Error("failed to expire points", zap.Error(err))
				return err
			}
			created.Add(int64(n))
			return nil
		})
	}

	err = g.Wait()
	return int(created.Load()), err
}

func (s *Service) expireMembership(ctx context.Context, tenantID, membershipID string, now time.Time) (int, error) {
	res, err := s.appendChecked(ctx, tenantID, membershipID, func(rows []*PointsTransaction, _ Balance) ([]*PointsTransaction, error) {
		var out []*PointsTransaction
		for _, c := range ExpiredRemainders(rows, now) {
			earning := c.Transaction
			out = append(out, &PointsTransaction{
				TenantID:             tenantID,
				MembershipID:         membershipID,
				Type:                 TypeExpiration,
				PointsDelta:          -c.Remaining,
				IdempotencyKey:       expirationKey(earning.ID),
				SourceEventID:        earning.SourceEventID,
				RelatedTransactionID: earning.ID,
				ProgramID:            earning.ProgramID,
				RewardRuleID:         earning.RewardRuleID,
				OccurredAt:           *earning.ExpiresAt,
			})
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range res {
		if r.Created {
			n++
		}
	}
	return n, nil
}

// TenantsWithExpiredCredits lists tenants that have expiry work pending.
func (s *Service) TenantsWithExpiredCredits(ctx context.Context, now time.Time) ([]string, error) {
	return s.store.TenantsWithExpiredCredits(ctx, now)
}
