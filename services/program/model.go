package program

import (
	"time"

	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/formula"
	"smallbiznis-loyalty/services/idempotency"

	"gorm.io/datatypes"
)

type ProgramType string

const (
	ProgramTypeBase         ProgramType = "BASE"
	ProgramTypePromo        ProgramType = "PROMO"
	ProgramTypePartner      ProgramType = "PARTNER"
	ProgramTypeSubscription ProgramType = "SUBSCRIPTION"
	ProgramTypeExperimental ProgramType = "EXPERIMENTAL"
)

func (t ProgramType) Valid() bool {
	switch t {
	case ProgramTypeBase, ProgramTypePromo, ProgramTypePartner, ProgramTypeSubscription, ProgramTypeExperimental:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type SelectionStrategy string

const (
	SelectPriority  SelectionStrategy = "priority"
	SelectBestValue SelectionStrategy = "best_value"
)

// StackingPolicy bounds how many programs may award points for one event.
type StackingPolicy struct {
	Allowed               bool              `json:"allowed"`
	MaxConcurrentPrograms int               `json:"maxConcurrentPrograms,omitempty"` // 0 = unlimited
	SelectionStrategy     SelectionStrategy `json:"selectionStrategy,omitempty"`
}

// Limit returns how many programs this policy lets award per event, 0 meaning no limit.
func (s StackingPolicy) Limit() int {
	if !s.Allowed {
		return 1
	}
	return s.MaxConcurrentPrograms
}

type ExpirationType string

const (
	ExpireNever     ExpirationType = "none"
	ExpireFixedDays ExpirationType = "fixed_days"
	ExpireEndOfYear ExpirationType = "end_of_year"
)

type ExpirationPolicy struct {
	Type     ExpirationType `json:"type,omitempty"`
	Days     int            `json:"days,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
}

// ExpiresAt computes the expiry of points earned at earnedAt, or nil if they never expire.
func (e ExpirationPolicy) ExpiresAt(earnedAt time.Time) *time.Time {
	switch e.Type {
	case ExpireFixedDays:
		if e.Days <= 0 {
			return nil
		}
		t := earnedAt.AddDate(0, 0, e.Days).UTC()
		return &t
	case ExpireEndOfYear:
		loc := time.UTC
		if e.Timezone != "" {
			if l, err := time.LoadLocation(e.Timezone); err == nil {
				loc = l
			}
		}
		local := earnedAt.In(loc)
		t := time.Date(local.Year(), 12, 31, 23, 59, 59, 0, loc).UTC()
		return &t
	}
	return nil
}

// LoyaltyProgram is one version of a tenant's program. ID identifies the
// version row; ProgramID is stable across versions.
type LoyaltyProgram struct {
	ID             string                                     `gorm:"column:id;primaryKey" json:"id"`
	ProgramID      string                                     `gorm:"column:program_id;uniqueIndex:ux_program_version,priority:1" json:"programId"`
	Version        int                                        `gorm:"column:version;uniqueIndex:ux_program_version,priority:2" json:"version"`
	TenantID       string                                     `gorm:"column:tenant_id;index" json:"tenantId"`
	Code           string                                     `gorm:"column:code" json:"code"`
	Name           string                                     `gorm:"column:name" json:"name"`
	Type           ProgramType                                `gorm:"column:type" json:"type"`
	EarningDomains datatypes.JSONSlice[catalog.EarningDomain] `gorm:"column:earning_domains" json:"earningDomains"`
	PriorityRank   int                                        `gorm:"column:priority_rank" json:"priorityRank"`
	Stacking       datatypes.JSONType[StackingPolicy]         `gorm:"column:stacking" json:"stackingPolicy"`
	Expiration     datatypes.JSONType[ExpirationPolicy]       `gorm:"column:expiration" json:"expirationPolicy"`
	Status         Status                                     `gorm:"column:status;index" json:"status"`
	ActiveFrom     *time.Time                                 `gorm:"column:active_from" json:"activeFrom,omitempty"`
	ActiveTo       *time.Time                                 `gorm:"column:active_to" json:"activeTo,omitempty"`
	CreatedAt      time.Time                                  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time                                  `gorm:"column:updated_at" json:"updatedAt"`
}

func (LoyaltyProgram) TableName() string { return "loyalty_programs" }

type PeriodType string

const (
	PeriodCalendar PeriodType = "calendar"
	PeriodRolling  PeriodType = "rolling"
)

type PeriodUnit string

const (
	UnitDay   PeriodUnit = "day"
	UnitWeek  PeriodUnit = "week"
	UnitMonth PeriodUnit = "month"
)

type PeriodWindow struct {
	Type     PeriodType `json:"type"`
	Unit     PeriodUnit `json:"unit,omitempty"`
	Days     int        `json:"days,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

type Frequency struct {
	MaxAwards int          `json:"maxAwards"`
	Period    PeriodWindow `json:"period"`
}

type Limits struct {
	Frequency     *Frequency    `json:"frequency,omitempty"`
	CooldownHours *int          `json:"cooldownHours,omitempty"`
	PerEventCap   *int64        `json:"perEventCap,omitempty"`
	PerPeriodCap  *int64        `json:"perPeriodCap,omitempty"`
	Period        *PeriodWindow `json:"period,omitempty"`
}

type ConflictSettings struct {
	ConflictGroup     catalog.ConflictGroup `json:"conflictGroup"`
	StackPolicy       catalog.StackPolicy   `json:"stackPolicy"`
	PriorityRank      int                   `json:"priorityRank"`
	MaxAwardsPerEvent *int                  `json:"maxAwardsPerEvent,omitempty"`
}

// RewardRule is one version of a rule. It belongs to the program identified
// by ProgramID.
type RewardRule struct {
	ID            string                                     `gorm:"column:id;primaryKey" json:"id"`
	RuleID        string                                     `gorm:"column:rule_id;uniqueIndex:ux_rule_version,priority:1" json:"ruleId"`
	Version       int                                        `gorm:"column:version;uniqueIndex:ux_rule_version,priority:2" json:"version"`
	TenantID      string                                     `gorm:"column:tenant_id;index:idx_rule_lookup,priority:1" json:"tenantId"`
	Trigger       event.Trigger                              `gorm:"column:trigger_type;index:idx_rule_lookup,priority:2" json:"trigger"`
	ProgramID     string                                     `gorm:"column:program_id;index" json:"programId"`
	Name          string                                     `gorm:"column:name" json:"name"`
	EarningDomain catalog.EarningDomain                      `gorm:"column:earning_domain" json:"earningDomain"`
	Scope         datatypes.JSONType[eligibility.Scope]      `gorm:"column:scope" json:"scope"`
	Eligibility   datatypes.JSONType[eligibility.Conditions] `gorm:"column:eligibility" json:"eligibility"`
	Formula       datatypes.JSONType[formula.Definition]     `gorm:"column:formula" json:"pointsFormula"`
	Limits        datatypes.JSONType[Limits]                 `gorm:"column:limits" json:"limits"`
	Conflict      datatypes.JSONType[ConflictSettings]       `gorm:"column:conflict" json:"conflict"`
	Idempotency   datatypes.JSONType[idempotency.Scope]      `gorm:"column:idempotency" json:"idempotencyScope"`
	Status        Status                                     `gorm:"column:status;index:idx_rule_lookup,priority:3" json:"status"`
	ActiveFrom    *time.Time                                 `gorm:"column:active_from" json:"activeFrom,omitempty"`
	ActiveTo      *time.Time                                 `gorm:"column:active_to" json:"activeTo,omitempty"`
	CreatedAt     time.Time                                  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time                                  `gorm:"column:updated_at" json:"updatedAt"`
}

func (RewardRule) TableName() string { return "reward_rules" }

func (r *RewardRule) RuleTrigger() event.Trigger             { return r.Trigger }
func (r *RewardRule) RuleScope() eligibility.Scope           { return r.Scope.Data() }
func (r *RewardRule) RuleConditions() eligibility.Conditions { return r.Eligibility.Data() }
func (r *RewardRule) PointsFormula() formula.Formula         { return r.Formula.Data().Formula }
func (r *RewardRule) ConflictSettings() ConflictSettings     { return r.Conflict.Data() }
func (r *RewardRule) RuleLimits() Limits                     { return r.Limits.Data() }
func (r *RewardRule) IdempotencyScope() idempotency.Scope    { return r.Idempotency.Data() }

func (r *RewardRule) IsActive(now time.Time) bool {
	return isActive(r.Status, r.ActiveFrom, r.ActiveTo, now)
}

func (p *LoyaltyProgram) IsActive(now time.Time) bool {
	return isActive(p.Status, p.ActiveFrom, p.ActiveTo, now)
}

func isActive(status Status, from, to *time.Time, now time.Time) bool {
	if status != StatusActive {
		return false
	}
	if from != nil && now.Before(*from) {
		return false
	}
	if to != nil && now.After(*to) {
		return false
	}
	return true
}

// Allows reports whether the program may award points in domain d. A BASE
// program without declared domains may award in any domain.
func (p *LoyaltyProgram) Allows(d catalog.EarningDomain) bool {
	if len(p.EarningDomains) == 0 {
		return p.Type == ProgramTypeBase
	}
	for _, x := range p.EarningDomains {
		if x == d {
			return true
		}
	}
	return false
}
