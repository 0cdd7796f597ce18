package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	require.NoError(t, c.ValidateEarningDomain(DomainSpend))
	require.NoError(t, c.ValidateConflictGroup(GroupPromoBonus))
	require.NoError(t, c.ValidateStackPolicy(StackPolicyBestOf))

	require.True(t, errors.Is(c.ValidateEarningDomain("GAMBLING"), ErrUnknownEarningDomain))
	require.True(t, errors.Is(c.ValidateConflictGroup("nope"), ErrUnknownConflictGroup))
	require.True(t, errors.Is(c.ValidateStackPolicy("SUM"), ErrUnknownStackPolicy))
}

func TestCustomCatalogNormalizesCase(t *testing.T) {
	c := New([]EarningDomain{"fuel"}, []ConflictGroup{"station_bonus"})

	require.NoError(t, c.ValidateEarningDomain("FUEL"))
	require.NoError(t, c.ValidateConflictGroup("STATION_BONUS"))
	require.Error(t, c.ValidateEarningDomain(DomainSpend))
	require.Equal(t, []EarningDomain{"FUEL"}, c.EarningDomains())
	require.NoError(t, c.ValidateStackPolicy(StackPolicyStack))
}

func TestSelectsSingle(t *testing.T) {
	require.False(t, StackPolicyStack.SelectsSingle())
	require.True(t, StackPolicyExclusive.SelectsSingle())
	require.True(t, StackPolicyPriority.SelectsSingle())
	require.True(t, StackPolicyBestOf.SelectsSingle())
}
