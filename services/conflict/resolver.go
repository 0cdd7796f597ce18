// Package conflict picks the surviving awards among candidates that compete
// for the same conflict group.
package conflict

import (
	"fmt"
	"sort"

	"smallbiznis-loyalty/services/catalog"
)

const (
	ReasonExcluded  = "excluded by conflict resolution"
	ReasonStackCap  = "stack cap reached"
	ReasonPeriodCap = "period cap reached"
	ReasonMaxAwards = "max awards per event reached"
)

type TieBreak string

const (
	TieBreakLowestRuleID  TieBreak = "lowest-rule-id"
	TieBreakHighestRuleID TieBreak = "highest-rule-id"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakLowestRuleID:
		return TieBreakLowestRuleID, nil
	case TieBreakHighestRuleID:
		return TieBreakHighestRuleID, nil
	}
	return "", fmt.Errorf("unknown tie-break %q", s)
}

type Candidate struct {
	Key           string
	RuleID        string
	ProgramID     string
	ConflictGroup catalog.ConflictGroup
	StackPolicy   catalog.StackPolicy
	PriorityRank  int
	Points        int64
	PerEventCap   *int64
	// PeriodRemaining is what is left of the rule's perPeriodCap, nil when
	// the rule declares none. In a STACK group the smallest value among the
	// members bounds the group total.
	PeriodRemaining   *int64
	MaxAwardsPerEvent *int
	// Persisted marks a candidate whose row already exists from an earlier
	// attempt. It wins its group and keeps its recorded points.
	Persisted bool
}

type Award struct {
	Candidate
	Awarded int64
}

type Rejection struct {
	Candidate
	Reason string
}

type Outcome struct {
	Awards   []Award
	Rejected []Rejection
	Warnings []string
}

func (o Outcome) Total() int64 {
	var total int64
	for _, a := range o.Awards {
		total += a.Awarded
	}
	return total
}

type Resolver struct {
	TieBreak TieBreak
}

func (r Resolver) less(a, b Candidate) bool {
	if a.PriorityRank != b.PriorityRank {
		return a.PriorityRank > b.PriorityRank
	}
	return r.tie(a, b)
}

func (r Resolver) tie(a, b Candidate) bool {
	if a.RuleID == b.RuleID {
		return a.ProgramID < b.ProgramID
	}
	if r.TieBreak == TieBreakHighestRuleID {
		return a.RuleID > b.RuleID
	}
	return a.RuleID < b.RuleID
}

// Resolve applies each group's stack policy. Groups never interact and are
// processed in name order so output is stable.
func (r Resolver) Resolve(cands []Candidate) Outcome {
	groups := map[catalog.ConflictGroup][]Candidate{}
	for _, c := range cands {
		groups[c.ConflictGroup] = append(groups[c.ConflictGroup], c)
	}

	names := make([]catalog.ConflictGroup, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var out Outcome
	for _, g := range names {
		members := groups[g]
		sort.SliceStable(members, func(i, j int) bool { return r.less(members[i], members[j]) })

		policy := members[0].StackPolicy
		for _, m := range members[1:] {
			if m.StackPolicy != policy {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("conflict group %s has mixed stack policies, using %s", g, policy))
				break
			}
		}

		if policy == catalog.StackPolicyStack {
			r.stack(members, &out)
		} else {
			r.single(policy, members, &out)
		}
	}
	return out
}

func minPtr(v int64, caps ...*int64) int64 {
	for _, c := range caps {
		if c != nil && *c < v {
			v = *c
		}
	}
	if v < 0 {
		return 0
	}
	return v
}

func (r Resolver) single(policy catalog.StackPolicy, members []Candidate, out *Outcome) {
	for i, m := range members {
		if m.Persisted {
			out.Awards = append(out.Awards, Award{Candidate: m, Awarded: m.Points})
			for j, o := range members {
				if j != i {
					out.Rejected = append(out.Rejected, Rejection{Candidate: o, Reason: ReasonExcluded})
				}
			}
			return
		}
	}

	type capped struct {
		Candidate
		amount int64
	}
	var eligible []capped
	for _, m := range members {
		amount := minPtr(m.Points, m.PerEventCap, m.PeriodRemaining)
		if amount == 0 && m.Points > 0 {
			out.Rejected = append(out.Rejected, Rejection{Candidate: m, Reason: ReasonPeriodCap})
			continue
		}
		eligible = append(eligible, capped{m, amount})
	}
	if len(eligible) == 0 {
		return
	}

	if policy == catalog.StackPolicyBestOf {
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].amount != eligible[j].amount {
				return eligible[i].amount > eligible[j].amount
			}
			return r.less(eligible[i].Candidate, eligible[j].Candidate)
		})
	}

	out.Awards = append(out.Awards, Award{Candidate: eligible[0].Candidate, Awarded: eligible[0].amount})
	for _, e := range eligible[1:] {
		out.Rejected = append(out.Rejected, Rejection{Candidate: e.Candidate, Reason: ReasonExcluded})
	}
}

// stack keeps every member in priority order until the group allowance is
// spent. The allowance is the smaller of the lowest perEventCap and the lowest
// remaining perPeriodCap among the members; the member that crosses it gets
// the remainder. Persisted members count against both limits.
func (r Resolver) stack(members []Candidate, out *Outcome) {
	var eventLeft, periodLeft *int64
	var maxAwards *int
	lower := func(cur **int64, v *int64) {
		if v != nil && (*cur == nil || *v < **cur) {
			x := *v
			*cur = &x
		}
	}
	for _, m := range members {
		lower(&eventLeft, m.PerEventCap)
		lower(&periodLeft, m.PeriodRemaining)
		if m.MaxAwardsPerEvent != nil && (maxAwards == nil || *m.MaxAwardsPerEvent < *maxAwards) {
			v := *m.MaxAwardsPerEvent
			maxAwards = &v
		}
	}

	ordered := make([]Candidate, 0, len(members))
	for _, m := range members {
		if m.Persisted {
			ordered = append(ordered, m)
		}
	}
	for _, m := range members {
		if !m.Persisted {
			ordered = append(ordered, m)
		}
	}

	spend := func(left *int64, amount int64) {
		if left == nil {
			return
		}
		*left -= amount
		if *left < 0 {
			*left = 0
		}
	}

	awards := 0
	for _, m := range ordered {
		if maxAwards != nil && awards >= *maxAwards {
			out.Rejected = append(out.Rejected, Rejection{Candidate: m, Reason: ReasonMaxAwards})
			continue
		}

		amount := m.Points
		if !m.Persisted {
			amount = minPtr(m.Points, periodLeft)
			if amount == 0 && m.Points > 0 {
				out.Rejected = append(out.Rejected, Rejection{Candidate: m, Reason: ReasonPeriodCap})
				continue
			}
			amount = minPtr(amount, eventLeft)
			if amount == 0 && m.Points > 0 {
				out.Rejected = append(out.Rejected, Rejection{Candidate: m, Reason: ReasonStackCap})
				continue
			}
		}

		spend(eventLeft, amount)
		spend(periodLeft, amount)
		awards++
		out.Awards = append(out.Awards, Award{Candidate: m, Awarded: amount})
	}
}
