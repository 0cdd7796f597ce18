// Package formula computes point amounts. Formula is a closed union of Fixed,
// Rate, Table and Hybrid; Match is the only way to branch on it.
package formula

import (
	"fmt"

	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindFixed  Kind = "fixed"
	KindRate   Kind = "rate"
	KindTable  Kind = "table"
	KindHybrid Kind = "hybrid"
)

type Rounding string

const (
	RoundFloor   Rounding = "floor"
	RoundCeil    Rounding = "ceil"
	RoundNearest Rounding = "nearest"
)

type Formula interface {
	Kind() Kind
	sealed()
}

type Fixed struct {
	Points int64
}

type Rate struct {
	AmountField event.AmountField
	Rate        decimal.Decimal
	Rounding    Rounding
	MinPoints   *int64
	MaxPoints   *int64
}

type Bracket struct {
	Min    decimal.Decimal  `json:"min"`
	Max    *decimal.Decimal `json:"max"`
	Points int64            `json:"points"`
}

type Table struct {
	AmountField event.AmountField
	Brackets    []Bracket
}

// Bonus adds its formula when Condition matches the event.
type Bonus struct {
	Condition eligibility.Conditions
	Bonus     Formula
}

type Hybrid struct {
	Base    Formula
	Bonuses []Bonus
}

func (Fixed) Kind() Kind  { return KindFixed }
func (Rate) Kind() Kind   { return KindRate }
func (Table) Kind() Kind  { return KindTable }
func (Hybrid) Kind() Kind { return KindHybrid }

func (Fixed) sealed()  {}
func (Rate) sealed()   {}
func (Table) sealed()  {}
func (Hybrid) sealed() {}

// Match dispatches on the concrete formula. A new formula kind adds a
// parameter here, so every call site stops compiling until it handles it.
func Match[T any](f Formula, fixed func(Fixed) T, rate func(Rate) T, table func(Table) T, hybrid func(Hybrid) T) T {
	switch v := f.(type) {
	case Fixed:
		return fixed(v)
	case *Fixed:
		return fixed(*v)
	case Rate:
		return rate(v)
	case *Rate:
		return rate(*v)
	case Table:
		return table(v)
	case *Table:
		return table(*v)
	case Hybrid:
		return hybrid(v)
	case *Hybrid:
		return hybrid(*v)
	}
	panic(fmt.Sprintf("formula: unhandled kind %T", f))
}

// AmountField reports the payload field a formula reads, if any.
func AmountField(f Formula) event.AmountField {
	return Match(f,
		func(Fixed) event.AmountField { return "" },
		func(r Rate) event.AmountField { return r.AmountField },
		func(t Table) event.AmountField { return t.AmountField },
		func(h Hybrid) event.AmountField {
			if h.Base == nil {
				return ""
			}
			return AmountField(h.Base)
		},
	)
}
