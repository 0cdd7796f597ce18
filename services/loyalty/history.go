package loyalty

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/ledger"

	"gorm.io/datatypes"
)

// applyHistory enforces the limits that depend on earlier awards: cooldown,
// frequency and the per-period cap. Windows are anchored at the event's
// occurredAt. Rows written for this same event are ignored so a replay never
// caps itself. A STACK member's period cap counts the earnings of every
// member of its group present for this event.
func (e *Engine) applyHistory(ctx context.Context, ev event.Event, cands []*candidate, res *Result) ([]*candidate, error) {
	own := make(map[string]bool, len(cands))
	groups := map[catalog.ConflictGroup][]*candidate{}
	for _, c := range cands {
		own[c.Key] = true
		if c.StackPolicy == catalog.StackPolicyStack {
			groups[c.ConflictGroup] = append(groups[c.ConflictGroup], c)
		}
	}

	earnings := func(c *candidate, start, end time.Time) ([]*ledger.PointsTransaction, error) {
		rows, err := e.ledger.EarningsInPeriod(ctx, ledger.EarningsQuery{
			TenantID:     ev.TenantID,
			MembershipID: ev.MembershipID,
			ProgramID:    c.rule.ProgramID,
			RuleID:       c.rule.RuleID,
			Start:        start,
			End:          end,
		})
		if err != nil {
			return nil, err
		}
		out := rows[:0]
		for _, r := range rows {
			if !own[r.IdempotencyKey] && r.SourceEventID != ev.SourceEventID {
				out = append(out, r)
			}
		}
		return out, nil
	}

	out := cands[:0]
	for _, c := range cands {
		if c.Persisted {
			out = append(out, c)
			continue
		}
		limits := c.rule.RuleLimits()

		if limits.CooldownHours != nil && *limits.CooldownHours > 0 {
			start := ev.OccurredAt.Add(-time.Duration(*limits.CooldownHours) * time.Hour)
			rows, err := earnings(c, start, ev.OccurredAt.Add(time.Nanosecond))
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				e.reject(res, c, ReasonCooldown)
				continue
			}
		}

		if f := limits.Frequency; f != nil && f.MaxAwards > 0 {
			start, end := f.Period.Window(ev.OccurredAt)
			rows, err := earnings(c, start, end)
			if err != nil {
				return nil, err
			}
			if len(rows) >= f.MaxAwards {
				e.reject(res, c, ReasonFrequency)
				continue
			}
		}

		if limits.PerPeriodCap != nil && limits.Period != nil {
			start, end := limits.Period.Window(ev.OccurredAt)
			members := []*candidate{c}
			if c.StackPolicy == catalog.StackPolicyStack {
				members = groups[c.ConflictGroup]
			}
			var used int64
			for _, m := range members {
				rows, err := earnings(m, start, end)
				if err != nil {
					return nil, err
				}
				for _, r := range rows {
					used += r.PointsDelta
				}
			}
			left := *limits.PerPeriodCap - used
			if left < 0 {
				left = 0
			}
			c.PeriodRemaining = &left
		}

		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) reject(res *Result, c *candidate, reason string) {
	res.evaluate(c, c.Points, reason)
	res.skip(reason, c.rule.RuleID, c.rule.ProgramID)
	ruleSkips.WithLabelValues(reason).Inc()
}

func jsonMeta(m map[string]any) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
