package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	attrs := map[string]any{
		VarPayload: map[string]any{
			"amount":  120.5,
			"channel": "pos",
			"items":   []any{map[string]any{"sku": "A1"}},
		},
		VarMembership: map[string]any{"tier": "GOLD"},
		VarEvent:      map[string]any{"trigger": "purchase"},
	}

	ok, err := Evaluate(`payload.channel == "pos" && membership.tier == "GOLD"`, attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(`payload.items.exists(i, i.sku == "B2")`, attrs)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate(`has(payload.coupon) && payload.coupon == "X"`, attrs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileRejectsNonBool(t *testing.T) {
	require.Error(t, ValidateExpression(`1 + 2`))
	require.Error(t, ValidateExpression(`payload.`))
	require.NoError(t, ValidateExpression(`event.trigger == "signup"`))
}

func TestStructToMap(t *testing.T) {
	type s struct {
		Name string `json:"name"`
	}
	require.Equal(t, map[string]any{"name": "x"}, StructToMap(s{Name: "x"}))
	require.Equal(t, map[string]any{}, StructToMap(nil))
}
