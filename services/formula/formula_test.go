package formula

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"smallbiznis-loyalty/services/eligibility"
	"smallbiznis-loyalty/services/event"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func i64(v int64) *int64 { return &v }

func purchase(net string) event.Event {
	ev := event.Event{
		EventType:  event.TriggerPurchase,
		OccurredAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Membership: event.Membership{Tier: "GOLD", TierRank: 2},
		Payload:    event.Payload{Channel: "app"},
	}
	if net != "" {
		ev.Payload.NetAmount = decp(net)
	}
	return ev
}

func TestFixed(t *testing.T) {
	res := Evaluate(Fixed{Points: 50}, purchase(""))
	require.Equal(t, int64(50), res.Points)
	require.Empty(t, res.Warnings)

	res = Evaluate(Fixed{Points: -5}, purchase(""))
	require.Equal(t, int64(0), res.Points)
	require.Len(t, res.Warnings, 1)
}

func TestRateRounding(t *testing.T) {
	cases := []struct {
		amount   string
		rate     string
		rounding Rounding
		want     int64
	}{
		{"250", "1", RoundFloor, 250},
		{"99.99", "0.1", RoundFloor, 9},
		{"99.99", "0.1", RoundCeil, 10},
		{"24.5", "0.1", RoundNearest, 2},
		{"25", "0.1", RoundNearest, 3}, // 2.5 rounds away from zero
		{"0.3", "3", "", 0},            // default floor, 0.9
		{"0.1", "30", RoundFloor, 3},   // exact, no float drift
	}
	for _, tc := range cases {
		res := Evaluate(Rate{AmountField: event.AmountFieldNet, Rate: dec(tc.rate), Rounding: tc.rounding}, purchase(tc.amount))
		require.Equal(t, tc.want, res.Points, "%s x %s %s", tc.amount, tc.rate, tc.rounding)
	}
}

func TestRateClampAndWarnings(t *testing.T) {
	r := Rate{AmountField: event.AmountFieldNet, Rate: dec("2"), MinPoints: i64(10), MaxPoints: i64(100)}

	require.Equal(t, int64(10), Evaluate(r, purchase("1")).Points)
	require.Equal(t, int64(100), Evaluate(r, purchase("1000")).Points)

	missing := Evaluate(r, purchase(""))
	require.Equal(t, int64(0), missing.Points)
	require.Equal(t, []string{"amount field netAmount missing"}, missing.Warnings)

	refund := Evaluate(Rate{AmountField: event.AmountFieldNet, Rate: dec("1")}, purchase("-20"))
	require.Equal(t, int64(0), refund.Points)
	require.Len(t, refund.Warnings, 1)
}

func TestTableBoundary(t *testing.T) {
	tbl := Table{
		AmountField: event.AmountFieldNet,
		Brackets: []Bracket{
			{Min: dec("100"), Max: nil, Points: 50},
			{Min: dec("0"), Max: decp("100"), Points: 10},
		},
	}
	require.NoError(t, Validate(tbl, true))

	require.Equal(t, int64(50), Evaluate(tbl, purchase("100")).Points)
	require.Equal(t, int64(10), Evaluate(tbl, purchase("99.99")).Points)
	require.Equal(t, int64(10), Evaluate(tbl, purchase("0")).Points)

	res := Evaluate(tbl, purchase("-1"))
	require.Equal(t, int64(0), res.Points)
	require.Len(t, res.Warnings, 1)
}

func TestHybrid(t *testing.T) {
	h := Hybrid{
		Base: Rate{AmountField: event.AmountFieldNet, Rate: dec("1")},
		Bonuses: []Bonus{
			{Condition: eligibility.Conditions{Tiers: []string{"GOLD"}}, Bonus: Fixed{Points: 20}},
			{Condition: eligibility.Conditions{Expression: `payload.channel == "pos"`}, Bonus: Fixed{Points: 1000}},
			{Condition: eligibility.Conditions{}, Bonus: Rate{AmountField: event.AmountFieldNet, Rate: dec("0.5")}},
		},
	}
	require.NoError(t, Validate(h, true))

	res := Evaluate(h, purchase("100"))
	require.Equal(t, int64(100+20+50), res.Points)
}

func TestValidate(t *testing.T) {
	require.True(t, errors.Is(Validate(Rate{Rate: dec("1")}, true), ErrMissingAmountField))
	require.NoError(t, Validate(Rate{Rate: dec("1")}, false))
	require.True(t, errors.Is(Validate(Table{Brackets: []Bracket{{Min: dec("0"), Points: 1}}}, true), ErrMissingAmountField))

	overlap := Table{AmountField: event.AmountFieldNet, Brackets: []Bracket{
		{Min: dec("0"), Max: decp("150"), Points: 1},
		{Min: dec("100"), Points: 2},
	}}
	require.True(t, errors.Is(Validate(overlap, true), ErrInvalidFormula))

	unboundedMiddle := Table{AmountField: event.AmountFieldNet, Brackets: []Bracket{
		{Min: dec("0"), Points: 1},
		{Min: dec("100"), Points: 2},
	}}
	require.Error(t, Validate(unboundedMiddle, true))

	require.Error(t, Validate(Hybrid{Base: Table{}}, false))
	require.Error(t, Validate(Hybrid{Base: Fixed{Points: 1}, Bonuses: []Bonus{{Bonus: Hybrid{}}}}, false))
	require.Error(t, Validate(Rate{Rate: dec("1"), Rounding: "bankers"}, false))
	require.Error(t, Validate(nil, false))
}

func TestDefinitionJSON(t *testing.T) {
	raw := `{
		"type": "hybrid",
		"base": {"type": "rate", "amountField": "netAmount", "rate": 1.5, "roundingPolicy": "floor"},
		"bonuses": [
			{"condition": {"tiers": ["GOLD"]}, "bonus": {"type": "fixed", "points": 25}}
		]
	}`

	var s Definition
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	require.Equal(t, KindHybrid, s.Formula.Kind())
	require.Equal(t, event.AmountFieldNet, AmountField(s.Formula))
	require.Equal(t, int64(150+25), Evaluate(s.Formula, purchase("100")).Points)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var back Definition
	require.NoError(t, json.Unmarshal(out, &back))
	require.Equal(t, Evaluate(s.Formula, purchase("77")), Evaluate(back.Formula, purchase("77")))

	table := `{"type":"table","amountField":"netAmount","brackets":[{"min":0,"max":100,"points":10},{"min":100,"max":null,"points":50}]}`
	require.NoError(t, json.Unmarshal([]byte(table), &s))
	require.Equal(t, int64(50), Evaluate(s.Formula, purchase("100")).Points)

	require.Error(t, json.Unmarshal([]byte(`{"type":"lottery"}`), &s))
	require.Error(t, json.Unmarshal([]byte(`{"type":"fixed"}`), &s))
}
