package loyalty

import (
	"sort"

	"smallbiznis-loyalty/services/conflict"
	"smallbiznis-loyalty/services/program"
)

type programAwards struct {
	program   *program.LoyaltyProgram
	awards    []conflict.Award
	total     int64
	persisted bool
}

// limitPrograms caps how many programs may award for one event. The cap is
// the tightest StackingPolicy among the awarding programs; the top-priority
// program's selection strategy decides which programs keep their awards.
// Programs with rows from an earlier attempt are kept first.
func limitPrograms(awards []conflict.Award, byKey map[string]*candidate) (kept, excluded []conflict.Award) {
	groups := map[string]*programAwards{}
	var order []*programAwards
	for _, a := range awards {
		c := byKey[a.Key]
		g, ok := groups[c.program.ProgramID]
		if !ok {
			g = &programAwards{program: c.program}
			groups[c.program.ProgramID] = g
			order = append(order, g)
		}
		g.awards = append(g.awards, a)
		g.total += a.Awarded
		g.persisted = g.persisted || a.Persisted
	}

	limit := 0
	for _, g := range order {
		if l := g.program.Stacking.Data().Limit(); l > 0 && (limit == 0 || l < limit) {
			limit = l
		}
	}
	if limit == 0 || len(order) <= limit {
		return awards, nil
	}

	byPriority := func(i, j int) bool {
		if order[i].program.PriorityRank != order[j].program.PriorityRank {
			return order[i].program.PriorityRank > order[j].program.PriorityRank
		}
		return order[i].program.ProgramID < order[j].program.ProgramID
	}
	sort.SliceStable(order, byPriority)
	strategy := order[0].program.Stacking.Data().SelectionStrategy

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].persisted != order[j].persisted {
			return order[i].persisted
		}
		if strategy == program.SelectBestValue && order[i].total != order[j].total {
			return order[i].total > order[j].total
		}
		return byPriority(i, j)
	})

	for i, g := range order {
		if i < limit {
			kept = append(kept, g.awards...)
		} else {
			excluded = append(excluded, g.awards...)
		}
	}
	return kept, excluded
}
