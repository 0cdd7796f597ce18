package program

import (
	"context"
	"errors"

	"smallbiznis-loyalty/services/event"

	"gorm.io/gorm"
)

type ListParams struct {
	ProgramID string
	Status    Status
	Limit     int
}

// Repository persists program and rule versions. Rows are never deleted;
// only status and activation window change after insert.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	CreateProgram(ctx context.Context, p *LoyaltyProgram) error
	CreateRule(ctx context.Context, r *RewardRule) error
	GetProgram(ctx context.Context, tenantID, id string) (*LoyaltyProgram, error)
	GetRule(ctx context.Context, tenantID, id string) (*RewardRule, error)
	LatestProgram(ctx context.Context, tenantID, programID string) (*LoyaltyProgram, error)
	LatestRule(ctx context.Context, tenantID, ruleID string) (*RewardRule, error)
	ListPrograms(ctx context.Context, tenantID string, params ListParams) ([]*LoyaltyProgram, error)
	ListRules(ctx context.Context, tenantID string, params ListParams) ([]*RewardRule, error)
	ActivePrograms(ctx context.Context, tenantID string) ([]*LoyaltyProgram, error)
	ActiveRules(ctx context.Context, tenantID string, trigger event.Trigger) ([]*RewardRule, error)
	SaveProgramStatus(ctx context.Context, p *LoyaltyProgram) error
	SaveRuleStatus(ctx context.Context, r *RewardRule) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) CreateProgram(ctx context.Context, p *LoyaltyProgram) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) CreateRule(ctx context.Context, rule *RewardRule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *gormRepository) GetProgram(ctx context.Context, tenantID, id string) (*LoyaltyProgram, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var p LoyaltyProgram
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&p).Error
	return nilIfNotFound(&p, err)
}

func (r *gormRepository) GetRule(ctx context.Context, tenantID, id string) (*RewardRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rule RewardRule
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Take(&rule).Error
	return nilIfNotFound(&rule, err)
}

func (r *gormRepository) LatestProgram(ctx context.Context, tenantID, programID string) (*LoyaltyProgram, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var p LoyaltyProgram
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND program_id = ?", tenantID, programID).
		Order("version DESC").
		Take(&p).Error
	return nilIfNotFound(&p, err)
}

func (r *gormRepository) LatestRule(ctx context.Context, tenantID, ruleID string) (*RewardRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rule RewardRule
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND rule_id = ?", tenantID, ruleID).
		Order("version DESC").
		Take(&rule).Error
	return nilIfNotFound(&rule, err)
}

func (r *gormRepository) ListPrograms(ctx context.Context, tenantID string, params ListParams) ([]*LoyaltyProgram, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&LoyaltyProgram{}).Where("tenant_id = ?", tenantID)
	if params.ProgramID != "" {
		query = query.Where("program_id = ?", params.ProgramID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var out []*LoyaltyProgram
	if err := query.Order("priority_rank DESC").Order("program_id ASC").Order("version DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) ListRules(ctx context.Context, tenantID string, params ListParams) ([]*RewardRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&RewardRule{}).Where("tenant_id = ?", tenantID)
	if params.ProgramID != "" {
		query = query.Where("program_id = ?", params.ProgramID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var out []*RewardRule
	if err := query.Order("rule_id ASC").Order("version DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) ActivePrograms(ctx context.Context, tenantID string) ([]*LoyaltyProgram, error) {
	return r.ListPrograms(ctx, tenantID, ListParams{Status: StatusActive})
}

func (r *gormRepository) ActiveRules(ctx context.Context, tenantID string, trigger event.Trigger) ([]*RewardRule, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []*RewardRule
	err := r.db.WithContext(ctx).Model(&RewardRule{}).
		Where("tenant_id = ? AND trigger_type = ? AND status = ?", tenantID, trigger, StatusActive).
		Order("rule_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) SaveProgramStatus(ctx context.Context, p *LoyaltyProgram) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return checkAffected(r.db.WithContext(ctx).
		Model(&LoyaltyProgram{}).
		Where("tenant_id = ? AND id = ?", p.TenantID, p.ID).
		Updates(map[string]any{
			"status":      p.Status,
			"active_from": p.ActiveFrom,
			"active_to":   p.ActiveTo,
		}))
}

func (r *gormRepository) SaveRuleStatus(ctx context.Context, rule *RewardRule) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return checkAffected(r.db.WithContext(ctx).
		Model(&RewardRule{}).
		Where("tenant_id = ? AND id = ?", rule.TenantID, rule.ID).
		Updates(map[string]any{
			"status":      rule.Status,
			"active_from": rule.ActiveFrom,
			"active_to":   rule.ActiveTo,
		}))
}

func checkAffected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func nilIfNotFound[T any](v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
