package program

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/formula"
	"smallbiznis-loyalty/services/idempotency"

	"gorm.io/datatypes"
)

var (
	ErrNegativePriority = errors.New("priority_rank_must_be_non_negative")
	ErrNoEarningDomain  = errors.New("earning_domain_required")
	ErrInvalidLimits    = errors.New("invalid_limits")
)

// ProgramInput is the authoring form of a program. The service assigns ids.
type ProgramInput struct {
	TenantID         string                  `json:"tenantId" yaml:"tenantId"`
	ProgramID        string                  `json:"programId,omitempty" yaml:"programId"`
	Code             string                  `json:"code,omitempty" yaml:"code"`
	Name             string                  `json:"name" yaml:"name"`
	Type             ProgramType             `json:"type" yaml:"type"`
	EarningDomains   []catalog.EarningDomain `json:"earningDomains,omitempty" yaml:"earningDomains"`
	PriorityRank     int                     `json:"priorityRank" yaml:"priorityRank"`
	StackingPolicy   StackingPolicy          `json:"stackingPolicy" yaml:"stackingPolicy"`
	ExpirationPolicy ExpirationPolicy        `json:"expirationPolicy" yaml:"expirationPolicy"`
	ActiveFrom       *time.Time              `json:"activeFrom,omitempty" yaml:"activeFrom"`
	ActiveTo         *time.Time              `json:"activeTo,omitempty" yaml:"activeTo"`
}

type RuleInput struct {
	TenantID         string                 `json:"tenantId"`
	RuleID           string                 `json:"ruleId,omitempty"`
	ProgramID        string                 `json:"programId"`
	Name             string                 `json:"name"`
	Trigger          event.Trigger          `json:"trigger"`
	EarningDomain    catalog.EarningDomain  `json:"earningDomain"`
	Scope            eligibility.Scope      `json:"scope"`
	Eligibility      eligibility.Conditions `json:"eligibility"`
	PointsFormula    formula.Definition     `json:"pointsFormula"`
	Limits           Limits                 `json:"limits"`
	Conflict         ConflictSettings       `json:"conflict"`
	IdempotencyScope idempotency.Scope      `json:"idempotencyScope"`
	ActiveFrom       *time.Time             `json:"activeFrom,omitempty"`
	ActiveTo         *time.Time             `json:"activeTo,omitempty"`
}

type validator struct {
	details []errutil.Detail
	errs    []error
}

func (v *validator) check(field string, err error) {
	if err == nil {
		return
	}
	v.details = append(v.details, errutil.Detail{Field: field, Message: err.Error()})
	v.errs = append(v.errs, err)
}

func (v *validator) result(msg string) error {
	if len(v.errs) == 0 {
		return nil
	}
	return errutil.ValidationFailed(msg, errors.Join(v.errs...), errutil.WithDetails(v.details...))
}

// NewProgram validates in and returns a draft program at version 1.
func NewProgram(cat *catalog.Catalog, in ProgramInput) (*LoyaltyProgram, error) {
	if err := ValidateProgram(cat, in); err != nil {
		return nil, err
	}

	domains := make(datatypes.JSONSlice[catalog.EarningDomain], 0, len(in.EarningDomains))
	for _, d := range in.EarningDomains {
		domains = append(domains, catalog.EarningDomain(strings.ToUpper(string(d))))
	}

	stacking := in.StackingPolicy
	if stacking.SelectionStrategy == "" {
		stacking.SelectionStrategy = SelectPriority
	}
	expiration := in.ExpirationPolicy
	if expiration.Type == "" {
		expiration.Type = ExpireNever
	}

	return &LoyaltyProgram{
		ProgramID:      in.ProgramID,
		TenantID:       in.TenantID,
		Code:           in.Code,
		Name:           strings.TrimSpace(in.Name),
		Type:           in.Type,
		EarningDomains: domains,
		PriorityRank:   in.PriorityRank,
		Stacking:       datatypes.NewJSONType(stacking),
		Expiration:     datatypes.NewJSONType(expiration),
		Status:         StatusDraft,
		Version:        1,
		ActiveFrom:     in.ActiveFrom,
		ActiveTo:       in.ActiveTo,
	}, nil
}

func ValidateProgram(cat *catalog.Catalog, in ProgramInput) error {
	v := &validator{}
	if strings.TrimSpace(in.TenantID) == "" {
		v.check("tenantId", errors.New("tenantId is required"))
	}
	if strings.TrimSpace(in.Name) == "" {
		v.check("name", errors.New("name is required"))
	}
	if !in.Type.Valid() {
		v.check("type", fmt.Errorf("unknown program type %q", in.Type))
	}
	if in.Type != ProgramTypeBase && len(in.EarningDomains) == 0 {
		v.check("earningDomains", fmt.Errorf("%w: non-BASE programs must declare at least one", ErrNoEarningDomain))
	}
	for i, d := range in.EarningDomains {
		v.check(fmt.Sprintf("earningDomains[%d]", i), cat.ValidateEarningDomain(d))
	}
	if in.PriorityRank < 0 {
		v.check("priorityRank", ErrNegativePriority)
	}
	switch in.StackingPolicy.SelectionStrategy {
	case "", SelectPriority, SelectBestValue:
	default:
		v.check("stackingPolicy.selectionStrategy", fmt.Errorf("unknown selection strategy %q", in.StackingPolicy.SelectionStrategy))
	}
	if in.StackingPolicy.MaxConcurrentPrograms < 0 {
		v.check("stackingPolicy.maxConcurrentPrograms", errors.New("must be >= 0"))
	}
	switch in.ExpirationPolicy.Type {
	case "", ExpireNever, ExpireEndOfYear:
	case ExpireFixedDays:
		if in.ExpirationPolicy.Days <= 0 {
			v.check("expirationPolicy.days", errors.New("fixed_days expiration needs days > 0"))
		}
	default:
		v.check("expirationPolicy.type", fmt.Errorf("unknown expiration type %q", in.ExpirationPolicy.Type))
	}
	if tz := in.ExpirationPolicy.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			v.check("expirationPolicy.timezone", err)
		}
	}
	if in.ActiveFrom != nil && in.ActiveTo != nil && in.ActiveTo.Before(*in.ActiveFrom) {
		v.check("activeTo", errors.New("activeTo is before activeFrom"))
	}
	return v.result("invalid loyalty program")
}

// NewRule validates in and returns a draft rule at version 1.
func NewRule(cat *catalog.Catalog, in RuleInput) (*RewardRule, error) {
	if err := ValidateRule(cat, in); err != nil {
		return nil, err
	}

	return &RewardRule{
		RuleID:        in.RuleID,
		TenantID:      in.TenantID,
		ProgramID:     in.ProgramID,
		Name:          strings.TrimSpace(in.Name),
		Trigger:       in.Trigger,
		EarningDomain: catalog.EarningDomain(strings.ToUpper(string(in.EarningDomain))),
		Scope:         datatypes.NewJSONType(in.Scope),
		Eligibility:   datatypes.NewJSONType(in.Eligibility),
		Formula:       datatypes.NewJSONType(in.PointsFormula),
		Limits:        datatypes.NewJSONType(in.Limits),
		Conflict: datatypes.NewJSONType(ConflictSettings{
			ConflictGroup:     catalog.ConflictGroup(strings.ToUpper(string(in.Conflict.ConflictGroup))),
			StackPolicy:       catalog.StackPolicy(strings.ToUpper(string(in.Conflict.StackPolicy))),
			PriorityRank:      in.Conflict.PriorityRank,
			MaxAwardsPerEvent: in.Conflict.MaxAwardsPerEvent,
		}),
		Idempotency: datatypes.NewJSONType(in.IdempotencyScope),
		Status:      StatusDraft,
		Version:     1,
		ActiveFrom:  in.ActiveFrom,
		ActiveTo:    in.ActiveTo,
	}, nil
}

func ValidateRule(cat *catalog.Catalog, in RuleInput) error {
	v := &validator{}
	if strings.TrimSpace(in.TenantID) == "" {
		v.check("tenantId", errors.New("tenantId is required"))
	}
	if strings.TrimSpace(in.ProgramID) == "" {
		v.check("programId", errors.New("programId is required"))
	}
	if strings.TrimSpace(in.Name) == "" {
		v.check("name", errors.New("name is required"))
	}
	if !in.Trigger.Valid() {
		v.check("trigger", fmt.Errorf("unknown trigger %q", in.Trigger))
	}
	v.check("earningDomain", cat.ValidateEarningDomain(in.EarningDomain))
	v.check("conflict.conflictGroup", cat.ValidateConflictGroup(in.Conflict.ConflictGroup))
	v.check("conflict.stackPolicy", cat.ValidateStackPolicy(in.Conflict.StackPolicy))
	if in.Conflict.PriorityRank < 0 {
		v.check("conflict.priorityRank", ErrNegativePriority)
	}
	if m := in.Conflict.MaxAwardsPerEvent; m != nil && *m <= 0 {
		v.check("conflict.maxAwardsPerEvent", errors.New("must be > 0"))
	}
	v.check("idempotencyScope", in.IdempotencyScope.Validate())
	v.check("pointsFormula", formula.Validate(in.PointsFormula.Formula, in.Trigger == event.TriggerPurchase))
	v.check("eligibility", in.Eligibility.Validate())
	v.check("limits", in.Limits.Validate())
	if in.ActiveFrom != nil && in.ActiveTo != nil && in.ActiveTo.Before(*in.ActiveFrom) {
		v.check("activeTo", errors.New("activeTo is before activeFrom"))
	}
	return v.result("invalid reward rule")
}

func (l Limits) Validate() error {
	if l.Frequency != nil {
		if l.Frequency.MaxAwards <= 0 {
			return fmt.Errorf("%w: frequency.maxAwards must be > 0", ErrInvalidLimits)
		}
		if err := l.Frequency.Period.Validate(); err != nil {
			return fmt.Errorf("frequency.period: %w", err)
		}
	}
	if l.CooldownHours != nil && *l.CooldownHours <= 0 {
		return fmt.Errorf("%w: cooldownHours must be > 0", ErrInvalidLimits)
	}
	if l.PerEventCap != nil && *l.PerEventCap < 0 {
		return fmt.Errorf("%w: perEventCap must be >= 0", ErrInvalidLimits)
	}
	if l.PerPeriodCap != nil {
		if *l.PerPeriodCap < 0 {
			return fmt.Errorf("%w: perPeriodCap must be >= 0", ErrInvalidLimits)
		}
		if l.Period == nil {
			return fmt.Errorf("%w: perPeriodCap needs a period", ErrInvalidLimits)
		}
	}
	if l.Period != nil {
		if err := l.Period.Validate(); err != nil {
			return fmt.Errorf("period: %w", err)
		}
	}
	return nil
}
