package formula

import (
	"encoding/json"
	"fmt"

	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"

	"github.com/shopspring/decimal"
)

// Definition is the storable form of a Formula, encoded as an object with a "type"
// discriminator.
type Definition struct {
	Formula Formula
}

type bonusWire struct {
	Condition eligibility.Conditions `json:"condition"`
	Bonus     Definition             `json:"bonus"`
}

type wire struct {
	Type           Kind              `json:"type"`
	Points         *int64            `json:"points,omitempty"`
	AmountField    event.AmountField `json:"amountField,omitempty"`
	Rate           *decimal.Decimal  `json:"rate,omitempty"`
	RoundingPolicy Rounding          `json:"roundingPolicy,omitempty"`
	MinPoints      *int64            `json:"minPoints,omitempty"`
	MaxPoints      *int64            `json:"maxPoints,omitempty"`
	Brackets       []Bracket         `json:"brackets,omitempty"`
	Base           *Definition       `json:"base,omitempty"`
	Bonuses        []bonusWire       `json:"bonuses,omitempty"`
}

func (s Definition) MarshalJSON() ([]byte, error) {
	if s.Formula == nil {
		return []byte("null"), nil
	}

	w := Match(s.Formula,
		func(f Fixed) wire {
			p := f.Points
			return wire{Type: KindFixed, Points: &p}
		},
		func(r Rate) wire {
			rate := r.Rate
			return wire{
				Type:           KindRate,
				AmountField:    r.AmountField,
				Rate:           &rate,
				RoundingPolicy: r.Rounding,
				MinPoints:      r.MinPoints,
				MaxPoints:      r.MaxPoints,
			}
		},
		func(t Table) wire {
			return wire{Type: KindTable, AmountField: t.AmountField, Brackets: t.Brackets}
		},
		func(h Hybrid) wire {
			w := wire{Type: KindHybrid, Base: &Definition{Formula: h.Base}}
			for _, b := range h.Bonuses {
				w.Bonuses = append(w.Bonuses, bonusWire{Condition: b.Condition, Bonus: Definition{Formula: b.Bonus}})
			}
			return w
		},
	)
	return json.Marshal(w)
}

func (s *Definition) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.Formula = nil
		return nil
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Type {
	case KindFixed:
		if w.Points == nil {
			return fmt.Errorf("%w: fixed formula needs points", ErrInvalidFormula)
		}
		s.Formula = Fixed{Points: *w.Points}
	case KindRate:
		if w.Rate == nil {
			return fmt.Errorf("%w: rate formula needs rate", ErrInvalidFormula)
		}
		s.Formula = Rate{
			AmountField: w.AmountField,
			Rate:        *w.Rate,
			Rounding:    w.RoundingPolicy,
			MinPoints:   w.MinPoints,
			MaxPoints:   w.MaxPoints,
		}
	case KindTable:
		s.Formula = Table{AmountField: w.AmountField, Brackets: w.Brackets}
	case KindHybrid:
		h := Hybrid{}
		if w.Base != nil {
			h.Base = w.Base.Formula
		}
		for _, b := range w.Bonuses {
			h.Bonuses = append(h.Bonuses, Bonus{Condition: b.Condition, Bonus: b.Bonus.Formula})
		}
		s.Formula = h
	default:
		return fmt.Errorf("%w: unknown formula type %q", ErrInvalidFormula, w.Type)
	}
	return nil
}
