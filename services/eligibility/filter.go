package eligibility

import (
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/celengine"
	"smallbiznis-loyalty/services/event"
)

// Skip reasons. Callers surface these verbatim.
const (
	ReasonTriggerMismatch   = "trigger mismatch"
	ReasonScopeStore        = "scope mismatch: store"
	ReasonScopeBranch       = "scope mismatch: branch"
	ReasonScopeChannel      = "scope mismatch: channel"
	ReasonScopeCategory     = "scope mismatch: category"
	ReasonScopeSKU          = "scope mismatch: sku"
	ReasonTierBelowMin      = "tier below minimum"
	ReasonTierAboveMax      = "tier above maximum"
	ReasonTierNotAllowed    = "tier not allowed"
	ReasonStatusNotAllowed  = "membership status not allowed"
	ReasonMembershipTooNew  = "membership too new"
	ReasonAmountMissing     = "amount missing"
	ReasonAmountBelowMin    = "amount below minimum"
	ReasonAmountAboveMax    = "amount above maximum"
	ReasonItemsMissing      = "item count missing"
	ReasonItemsBelowMin     = "item count below minimum"
	ReasonItemsAboveMax     = "item count above maximum"
	ReasonCategoryNotListed = "category not allowed"
	ReasonSKUNotListed      = "sku not allowed"
	ReasonDayNotAllowed     = "day of week not allowed"
	ReasonOutsideTimeWindow = "outside time window"
	ReasonExpressionFalse   = "expression not satisfied"
	ReasonExpressionError   = "expression error"
	ReasonRuleInactive      = "rule not active"
)

// Target is the rule-shaped input to the filter.
type Target interface {
	RuleTrigger() event.Trigger
	RuleScope() Scope
	RuleConditions() Conditions
	IsActive(now time.Time) bool
}

type Decision struct {
	Match  bool
	Reason string
}

func match() Decision             { return Decision{Match: true} }
func skip(reason string) Decision { return Decision{Reason: reason} }

// Filter matches one event against one rule. It holds no state.
type Filter struct{}

// Check runs trigger, scope, conditions and activity checks in that order and
// stops at the first failure.
func (Filter) Check(t Target, ev event.Event, now time.Time) Decision {
	if t.RuleTrigger() != ev.EventType {
		return skip(ReasonTriggerMismatch)
	}
	if d := checkScope(t.RuleScope(), ev.Payload); !d.Match {
		return d
	}
	if d := t.RuleConditions().Evaluate(ev); !d.Match {
		return d
	}
	if !t.IsActive(now) {
		return skip(ReasonRuleInactive)
	}
	return match()
}

func checkScope(s Scope, p event.Payload) Decision {
	switch {
	case s.StoreID != "" && s.StoreID != p.StoreID:
		return skip(ReasonScopeStore)
	case s.BranchID != "" && s.BranchID != p.BranchID:
		return skip(ReasonScopeBranch)
	case s.Channel != "" && s.Channel != p.Channel:
		return skip(ReasonScopeChannel)
	case s.Category != "" && s.Category != p.Category:
		return skip(ReasonScopeCategory)
	case s.SKU != "" && s.SKU != p.SKU:
		return skip(ReasonScopeSKU)
	}
	return match()
}

// Evaluate checks every present condition against ev.
func (c Conditions) Evaluate(ev event.Event) Decision {
	m := ev.Membership

	if c.MinTierRank != nil && m.TierRank < *c.MinTierRank {
		return skip(ReasonTierBelowMin)
	}
	if c.MaxTierRank != nil && m.TierRank > *c.MaxTierRank {
		return skip(ReasonTierAboveMax)
	}
	if len(c.Tiers) > 0 && !containsFold(c.Tiers, m.Tier) {
		return skip(ReasonTierNotAllowed)
	}
	if len(c.MembershipStatuses) > 0 && !containsFold(c.MembershipStatuses, m.Status) {
		return skip(ReasonStatusNotAllowed)
	}
	if c.MinMembershipAgeDays != nil {
		if m.JoinedAt.IsZero() || ev.OccurredAt.Sub(m.JoinedAt) < time.Duration(*c.MinMembershipAgeDays)*24*time.Hour {
			return skip(ReasonMembershipTooNew)
		}
	}

	if c.MinAmount != nil || c.MaxAmount != nil {
		amount, ok := ev.Payload.Amount(c.amountField())
		if !ok {
			return skip(ReasonAmountMissing)
		}
		if c.MinAmount != nil && amount.LessThan(*c.MinAmount) {
			return skip(ReasonAmountBelowMin)
		}
		if c.MaxAmount != nil && amount.GreaterThan(*c.MaxAmount) {
			return skip(ReasonAmountAboveMax)
		}
	}

	if c.MinItems != nil || c.MaxItems != nil {
		n, ok := ev.Payload.Count()
		if !ok {
			return skip(ReasonItemsMissing)
		}
		if c.MinItems != nil && n < *c.MinItems {
			return skip(ReasonItemsBelowMin)
		}
		if c.MaxItems != nil && n > *c.MaxItems {
			return skip(ReasonItemsAboveMax)
		}
	}

	if len(c.Categories) > 0 && !anyIn(c.Categories, ev.Payload.Categories()) {
		return skip(ReasonCategoryNotListed)
	}
	if len(c.SKUs) > 0 && !anyIn(c.SKUs, ev.Payload.SKUs()) {
		return skip(ReasonSKUNotListed)
	}

	if len(c.DaysOfWeek) > 0 || c.TimeWindow != nil {
		if d := c.checkCalendar(ev.OccurredAt); !d.Match {
			return d
		}
	}

	if c.Expression != "" {
		payload, membership, meta := ev.Attributes()
		ok, err := celengine.Evaluate(c.Expression, map[string]any{
			celengine.VarPayload:    payload,
			celengine.VarMembership: membership,
			celengine.VarEvent:      meta,
		})
		if err != nil {
			return skip(ReasonExpressionError)
		}
		if !ok {
			return skip(ReasonExpressionFalse)
		}
	}

	return match()
}

func (c Conditions) checkCalendar(at time.Time) Decision {
	loc := time.UTC
	if c.TimeWindow != nil {
		if l, err := loadLocation(c.TimeWindow.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)

	if len(c.DaysOfWeek) > 0 {
		allowed := false
		for _, d := range c.DaysOfWeek {
			if wd, ok := weekdays[strings.ToUpper(d)]; ok && wd == local.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return skip(ReasonDayNotAllowed)
		}
	}

	if w := c.TimeWindow; w != nil {
		start, errS := parseClock(w.Start)
		end, errE := parseClock(w.End)
		if errS != nil || errE != nil {
			return skip(ReasonOutsideTimeWindow)
		}
		minute := local.Hour()*60 + local.Minute()

		var inside bool
		if start <= end {
			inside = minute >= start && minute < end
		} else {
			// wraps midnight, e.g. 22:00-02:00
			inside = minute >= start || minute < end
		}
		if !inside {
			return skip(ReasonOutsideTimeWindow)
		}
	}

	return match()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func anyIn(allow, have []string) bool {
	for _, h := range have {
		if containsFold(allow, h) {
			return true
		}
	}
	return false
}
