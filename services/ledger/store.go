package ledger

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/db/option"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/repository"

	"gorm.io/gorm"
)

// EarningsQuery selects EARNING rows by occurredAt in [Start, End).
type EarningsQuery struct {
	TenantID     string
	MembershipID string
	ProgramID    string
	RuleID       string
	Start        time.Time
	End          time.Time
}

// Store is insert-and-read only. There is deliberately no update or delete.
type Store interface {
	WithTrx(tx *gorm.DB) Store
	Insert(ctx context.Context, t *PointsTransaction) error
	Get(ctx context.Context, tenantID, id string) (*PointsTransaction, error)
	FindByKey(ctx context.Context, tenantID, key string) (*PointsTransaction, error)
	FindByKeys(ctx context.Context, tenantID string, keys []string) ([]*PointsTransaction, error)
	Head(ctx context.Context, tenantID, membershipID string) (*PointsTransaction, error)
	ListByMembership(ctx context.Context, tenantID, membershipID string) ([]*PointsTransaction, error)
	Page(ctx context.Context, tenantID, membershipID string, p pagination.Pagination) ([]*PointsTransaction, error)
	Earnings(ctx context.Context, q EarningsQuery) ([]*PointsTransaction, error)
	ReversalsOf(ctx context.Context, tenantID string, ids []string) ([]*PointsTransaction, error)
	MembershipsWithExpiredCredits(ctx context.Context, tenantID string, now time.Time) ([]string, error)
	TenantsWithExpiredCredits(ctx context.Context, now time.Time) ([]string, error)
}

type gormStore struct {
	db   *gorm.DB
	rows repository.Repository[PointsTransaction]
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db, rows: repository.ProvideStore[PointsTransaction](db)}
}

func (s *gormStore) WithTrx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &gormStore{db: tx, rows: s.rows.WithTrx(tx)}
}

func chronological() option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	}
}

func (s *gormStore) Insert(ctx context.Context, t *PointsTransaction) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.rows.Create(ctx, t)
}

func (s *gormStore) Get(ctx context.Context, tenantID, id string) (*PointsTransaction, error) {
	return s.rows.FindOne(ctx, &PointsTransaction{TenantID: tenantID, ID: id})
}

func (s *gormStore) FindByKey(ctx context.Context, tenantID, key string) (*PointsTransaction, error) {
	return s.rows.FindOne(ctx, &PointsTransaction{TenantID: tenantID, IdempotencyKey: key})
}

func (s *gormStore) FindByKeys(ctx context.Context, tenantID string, keys []string) ([]*PointsTransaction, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.rows.Find(ctx, &PointsTransaction{TenantID: tenantID},
		option.ApplyOperator(option.Condition{Field: "idempotency_key", Operator: option.IN, Value: keys}))
}

// Head returns the newest row of the membership chain, locked for update
// where the dialect supports it.
func (s *gormStore) Head(ctx context.Context, tenantID, membershipID string) (*PointsTransaction, error) {
	return s.rows.FindOne(ctx, &PointsTransaction{TenantID: tenantID, MembershipID: membershipID},
		func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC").Order("id DESC")
		},
		option.WithLockingUpdate(),
	)
}

func (s *gormStore) ListByMembership(ctx context.Context, tenantID, membershipID string) ([]*PointsTransaction, error) {
	return s.rows.Find(ctx, &PointsTransaction{TenantID: tenantID, MembershipID: membershipID}, chronological())
}

func (s *gormStore) Page(ctx context.Context, tenantID, membershipID string, p pagination.Pagination) ([]*PointsTransaction, error) {
	return s.rows.Find(ctx, &PointsTransaction{TenantID: tenantID, MembershipID: membershipID},
		option.ApplyPagination(p), chronological())
}

func (s *gormStore) Earnings(ctx context.Context, q EarningsQuery) ([]*PointsTransaction, error) {
	opts := []option.QueryOption{
		option.WithWhere("occurred_at >= ? AND occurred_at < ?", q.Start, q.End),
		chronological(),
	}
	query := &PointsTransaction{
		TenantID:     q.TenantID,
		MembershipID: q.MembershipID,
		Type:         TypeEarning,
		ProgramID:    q.ProgramID,
		RewardRuleID: q.RuleID,
	}
	return s.rows.Find(ctx, query, opts...)
}

func (s *gormStore) ReversalsOf(ctx context.Context, tenantID string, ids []string) ([]*PointsTransaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.rows.Find(ctx, &PointsTransaction{TenantID: tenantID, Type: TypeReversal},
		option.ApplyOperator(option.Condition{Field: "reversal_of_transaction_id", Operator: option.IN, Value: ids}))
}

const expiredCreditFilter = "type = ? AND expires_at IS NOT NULL AND expires_at <= ? AND NOT EXISTS (" +
	"SELECT 1 FROM points_transactions x WHERE x.related_transaction_id = points_transactions.id AND x.type = ?)"

func (s *gormStore) MembershipsWithExpiredCredits(ctx context.Context, tenantID string, now time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var out []string
	err := s.db.WithContext(ctx).Model(&PointsTransaction{}).
		Where("tenant_id = ?", tenantID).
		Where(expiredCreditFilter, TypeEarning, now, TypeExpiration).
		Distinct().
		Order("membership_id").
		Pluck("membership_id", &out).Error
	return out, err
}

func (s *gormStore) TenantsWithExpiredCredits(ctx context.Context, now time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var out []string
	err := s.db.WithContext(ctx).Model(&PointsTransaction{}).
		Where(expiredCreditFilter, TypeEarning, now, TypeExpiration).
		Distinct().
		Order("tenant_id").
		Pluck("tenant_id", &out).Error
	return out, err
}
