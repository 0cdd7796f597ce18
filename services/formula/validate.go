package formula

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAmountField = errors.New("amount_field_required")
	ErrInvalidFormula     = errors.New("invalid_formula")
)

// Validate checks a formula at rule construction time. requireAmountField is
// set for PURCHASE-triggered rules, where rate and table must name their field.
func Validate(f Formula, requireAmountField bool) error {
	if f == nil {
		return fmt.Errorf("%w: formula is required", ErrInvalidFormula)
	}
	return Match(f,
		func(x Fixed) error {
			if x.Points < 0 {
				return fmt.Errorf("%w: fixed points must be >= 0", ErrInvalidFormula)
			}
			return nil
		},
		func(r Rate) error { return validateRate(r, requireAmountField) },
		func(t Table) error { return validateTable(t, requireAmountField) },
		func(h Hybrid) error { return validateHybrid(h, requireAmountField) },
	)
}

func validateRounding(r Rounding) error {
	switch r {
	case "", RoundFloor, RoundCeil, RoundNearest:
		return nil
	}
	return fmt.Errorf("%w: unknown rounding policy %q", ErrInvalidFormula, r)
}

func validateRate(r Rate, requireAmountField bool) error {
	if requireAmountField && r.AmountField == "" {
		return fmt.Errorf("%w: rate formula", ErrMissingAmountField)
	}
	if r.AmountField != "" && !r.AmountField.Valid() {
		return fmt.Errorf("%w: unknown amount field %q", ErrInvalidFormula, r.AmountField)
	}
	if err := validateRounding(r.Rounding); err != nil {
		return err
	}
	if r.MinPoints != nil && r.MaxPoints != nil && *r.MinPoints > *r.MaxPoints {
		return fmt.Errorf("%w: minPoints > maxPoints", ErrInvalidFormula)
	}
	return nil
}

func validateTable(t Table, requireAmountField bool) error {
	if requireAmountField && t.AmountField == "" {
		return fmt.Errorf("%w: table formula", ErrMissingAmountField)
	}
	if t.AmountField != "" && !t.AmountField.Valid() {
		return fmt.Errorf("%w: unknown amount field %q", ErrInvalidFormula, t.AmountField)
	}
	if len(t.Brackets) == 0 {
		return fmt.Errorf("%w: table needs at least one bracket", ErrInvalidFormula)
	}

	brackets := sortedBrackets(t.Brackets)
	for i, b := range brackets {
		if b.Points < 0 {
			return fmt.Errorf("%w: bracket %d points must be >= 0", ErrInvalidFormula, i)
		}
		if b.Max != nil && !b.Min.LessThan(*b.Max) {
			return fmt.Errorf("%w: bracket %d min must be < max", ErrInvalidFormula, i)
		}
		if i == len(brackets)-1 {
			break
		}
		if b.Max == nil {
			return fmt.Errorf("%w: only the last bracket may be unbounded", ErrInvalidFormula)
		}
		if b.Max.GreaterThan(brackets[i+1].Min) {
			return fmt.Errorf("%w: brackets %d and %d overlap", ErrInvalidFormula, i, i+1)
		}
	}
	return nil
}

func simple(f Formula) bool {
	k := f.Kind()
	return k == KindFixed || k == KindRate
}

func validateHybrid(h Hybrid, requireAmountField bool) error {
	if h.Base == nil || !simple(h.Base) {
		return fmt.Errorf("%w: hybrid base must be fixed or rate", ErrInvalidFormula)
	}
	if err := Validate(h.Base, requireAmountField); err != nil {
		return err
	}
	for i, b := range h.Bonuses {
		if b.Bonus == nil || !simple(b.Bonus) {
			return fmt.Errorf("%w: bonus %d must be fixed or rate", ErrInvalidFormula, i)
		}
		if err := Validate(b.Bonus, requireAmountField); err != nil {
			return fmt.Errorf("bonus %d: %w", i, err)
		}
		if err := b.Condition.Validate(); err != nil {
			return fmt.Errorf("%w: bonus %d condition: %v", ErrInvalidFormula, i, err)
		}
	}
	return nil
}
