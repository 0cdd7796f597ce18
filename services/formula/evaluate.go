package formula

import (
	"fmt"
	"sort"

	"smallbiznis-loyalty/services/event"

	"github.com/shopspring/decimal"
)

type Result struct {
	Points   int64
	Warnings []string
}

// Evaluate returns a non-negative point amount. Problems with the event data
// become warnings, never errors.
func Evaluate(f Formula, ev event.Event) Result {
	return Match(f,
		evalFixed,
		func(r Rate) Result { return evalRate(r, ev.Payload) },
		func(t Table) Result { return evalTable(t, ev.Payload) },
		func(h Hybrid) Result { return evalHybrid(h, ev) },
	)
}

func clampNonNegative(points decimal.Decimal, warnings []string) Result {
	if points.IsNegative() {
		return Result{Points: 0, Warnings: append(warnings, fmt.Sprintf("negative result %s clamped to 0", points.String()))}
	}
	return Result{Points: points.IntPart(), Warnings: warnings}
}

func evalFixed(f Fixed) Result {
	return clampNonNegative(decimal.NewFromInt(f.Points), nil)
}

func round(d decimal.Decimal, r Rounding) decimal.Decimal {
	switch r {
	case RoundCeil:
		return d.Ceil()
	case RoundNearest:
		// half away from zero
		return d.Round(0)
	default:
		return d.Floor()
	}
}

func amountField(f event.AmountField) event.AmountField {
	if f == "" {
		return event.AmountFieldNet
	}
	return f
}

func evalRate(r Rate, p event.Payload) Result {
	field := amountField(r.AmountField)
	amount, ok := p.Amount(field)
	if !ok {
		return Result{Warnings: []string{fmt.Sprintf("amount field %s missing", field)}}
	}

	points := round(amount.Mul(r.Rate), r.Rounding)
	if r.MinPoints != nil && points.LessThan(decimal.NewFromInt(*r.MinPoints)) {
		points = decimal.NewFromInt(*r.MinPoints)
	}
	if r.MaxPoints != nil && points.GreaterThan(decimal.NewFromInt(*r.MaxPoints)) {
		points = decimal.NewFromInt(*r.MaxPoints)
	}
	return clampNonNegative(points, nil)
}

func sortedBrackets(in []Bracket) []Bracket {
	out := make([]Bracket, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min.LessThan(out[j].Min) })
	return out
}

func evalTable(t Table, p event.Payload) Result {
	field := amountField(t.AmountField)
	amount, ok := p.Amount(field)
	if !ok {
		return Result{Warnings: []string{fmt.Sprintf("amount field %s missing", field)}}
	}

	for _, b := range sortedBrackets(t.Brackets) {
		if amount.LessThan(b.Min) {
			continue
		}
		if b.Max != nil && !amount.LessThan(*b.Max) {
			continue
		}
		return clampNonNegative(decimal.NewFromInt(b.Points), nil)
	}
	return Result{Warnings: []string{fmt.Sprintf("no bracket matches amount %s", amount.String())}}
}

func evalHybrid(h Hybrid, ev event.Event) Result {
	var res Result
	if h.Base != nil {
		res = Evaluate(h.Base, ev)
	}

	for i, b := range h.Bonuses {
		if b.Bonus == nil || !b.Condition.Evaluate(ev).Match {
			continue
		}
		br := Evaluate(b.Bonus, ev)
		res.Points += br.Points
		for _, w := range br.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("bonus[%d]: %s", i, w))
		}
	}
	return res
}
