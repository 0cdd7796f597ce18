package eligibility

import (
	"fmt"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/celengine"
	"smallbiznis-loyalty/services/event"

	"github.com/shopspring/decimal"
)

// Scope restricts a rule to events from one place. Empty fields match anything.
type Scope struct {
	StoreID  string `json:"storeId,omitempty"`
	BranchID string `json:"branchId,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Category string `json:"category,omitempty"`
	SKU      string `json:"sku,omitempty"`
}

type TimeWindow struct {
	Start    string `json:"start"` // HH:MM, inclusive
	End      string `json:"end"`   // HH:MM, exclusive
	Timezone string `json:"timezone,omitempty"`
}

// Conditions are ANDed. Nil or empty fields are not checked.
type Conditions struct {
	MinTierRank          *int              `json:"minTierRank,omitempty"`
	MaxTierRank          *int              `json:"maxTierRank,omitempty"`
	Tiers                []string          `json:"tiers,omitempty"`
	MembershipStatuses   []string          `json:"membershipStatuses,omitempty"`
	MinMembershipAgeDays *int              `json:"minMembershipAgeDays,omitempty"`
	AmountField          event.AmountField `json:"amountField,omitempty"`
	MinAmount            *decimal.Decimal  `json:"minAmount,omitempty"`
	MaxAmount            *decimal.Decimal  `json:"maxAmount,omitempty"`
	MinItems             *int              `json:"minItems,omitempty"`
	MaxItems             *int              `json:"maxItems,omitempty"`
	Categories           []string          `json:"categories,omitempty"`
	SKUs                 []string          `json:"skus,omitempty"`
	DaysOfWeek           []string          `json:"daysOfWeek,omitempty"`
	TimeWindow           *TimeWindow       `json:"timeWindow,omitempty"`
	Expression           string            `json:"expression,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Validate rejects conditions that could not be evaluated. It runs when a rule
// is constructed, so evaluation never sees malformed input.
func (c Conditions) Validate() error {
	if c.MinTierRank != nil && c.MaxTierRank != nil && *c.MinTierRank > *c.MaxTierRank {
		return fmt.Errorf("minTierRank > maxTierRank")
	}
	if c.MinItems != nil && c.MaxItems != nil && *c.MinItems > *c.MaxItems {
		return fmt.Errorf("minItems > maxItems")
	}
	if c.MinAmount != nil && c.MaxAmount != nil && c.MinAmount.GreaterThan(*c.MaxAmount) {
		return fmt.Errorf("minAmount > maxAmount")
	}
	if c.AmountField != "" && !c.AmountField.Valid() {
		return fmt.Errorf("unknown amountField %q", c.AmountField)
	}
	if c.MinMembershipAgeDays != nil && *c.MinMembershipAgeDays < 0 {
		return fmt.Errorf("minMembershipAgeDays must be >= 0")
	}
	for _, d := range c.DaysOfWeek {
		if _, ok := weekdays[strings.ToUpper(d)]; !ok {
			return fmt.Errorf("unknown day of week %q", d)
		}
	}
	if w := c.TimeWindow; w != nil {
		start, err := parseClock(w.Start)
		if err != nil {
			return err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return err
		}
		if start == end {
			return fmt.Errorf("timeWindow start equals end")
		}
		if _, err := loadLocation(w.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", w.Timezone, err)
		}
	}
	if c.Expression != "" {
		if err := celengine.ValidateExpression(c.Expression); err != nil {
			return fmt.Errorf("invalid expression: %w", err)
		}
	}
	return nil
}

func (c Conditions) amountField() event.AmountField {
	if c.AmountField == "" {
		return event.AmountFieldNet
	}
	return c.AmountField
}
