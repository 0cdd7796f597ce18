package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func row(id string, typ TxType, delta int64, at time.Duration) *PointsTransaction {
	return &PointsTransaction{
		ID:             id,
		TenantID:       "t1",
		MembershipID:   "m1",
		Type:           typ,
		PointsDelta:    delta,
		IdempotencyKey: "k-" + id,
		CreatedAt:      base.Add(at),
	}
}

func expiring(t *PointsTransaction, after time.Duration) *PointsTransaction {
	exp := base.Add(after)
	t.ExpiresAt = &exp
	return t
}

func TestFoldReversalNetsToZero(t *testing.T) {
	earn := row("1", TypeEarning, 100, 0)
	rev := row("2", TypeReversal, 0, time.Minute)
	rev.ReversalOfTransactionID = "1"

	bal := Fold([]*PointsTransaction{earn, rev}, base.Add(time.Hour))
	require.Equal(t, int64(0), bal.Raw)
	require.Equal(t, int64(0), bal.Available)
	require.Equal(t, base.Add(time.Minute), bal.LastUpdatedAt)
}

func TestFoldReversedRedeemRestoresPoints(t *testing.T) {
	earn := row("1", TypeEarning, 100, 0)
	redeem := row("2", TypeRedeem, -40, time.Minute)
	redeem.RewardID = "r1"
	rev := row("3", TypeReversal, 0, 2*time.Minute)
	rev.ReversalOfTransactionID = "2"

	bal := Fold([]*PointsTransaction{earn, redeem, rev}, base.Add(time.Hour))
	require.Equal(t, int64(100), bal.Available)
}

func TestFoldHolds(t *testing.T) {
	earn := row("1", TypeEarning, 100, 0)
	hold := row("2", TypeHold, -30, time.Minute)

	bal := Fold([]*PointsTransaction{earn, hold}, base.Add(time.Hour))
	require.Equal(t, int64(70), bal.Available)
	require.Equal(t, int64(30), bal.Held)

	release := row("3", TypeRelease, 30, 2*time.Minute)
	release.RelatedTransactionID = "2"

	bal = Fold([]*PointsTransaction{earn, hold, release}, base.Add(time.Hour))
	require.Equal(t, int64(100), bal.Available)
	require.Equal(t, int64(0), bal.Held)
}

func TestFoldExpiredWithoutRow(t *testing.T) {
	earn := expiring(row("1", TypeEarning, 100, 0), 24*time.Hour)
	later := row("2", TypeEarning, 50, time.Hour)
	redeem := row("3", TypeRedeem, -30, 2*time.Hour)
	redeem.RewardID = "r1"
	txs := []*PointsTransaction{earn, later, redeem}

	before := Fold(txs, base.Add(23*time.Hour))
	require.Equal(t, int64(120), before.Available)
	require.Equal(t, int64(0), before.PendingExpiry)

	// the redeem drew 30 from the first credit, so 70 of it lapses
	after := Fold(txs, base.Add(25*time.Hour))
	require.Equal(t, int64(120), after.Raw)
	require.Equal(t, int64(70), after.PendingExpiry)
	require.Equal(t, int64(50), after.Available)

	expiredRows := ExpiredRemainders(txs, base.Add(25*time.Hour))
	require.Len(t, expiredRows, 1)
	require.Equal(t, "1", expiredRows[0].Transaction.ID)
	require.Equal(t, int64(70), expiredRows[0].Remaining)
}

func TestFoldExpirationRowSettlesCredit(t *testing.T) {
	earn := expiring(row("1", TypeEarning, 100, 0), time.Hour)
	exp := row("2", TypeExpiration, -100, 2*time.Hour)
	exp.RelatedTransactionID = "1"
	txs := []*PointsTransaction{earn, exp}

	bal := Fold(txs, base.Add(3*time.Hour))
	require.Equal(t, int64(0), bal.Raw)
	require.Equal(t, int64(0), bal.Available)
	require.Empty(t, ExpiredRemainders(txs, base.Add(3*time.Hour)))
}

func TestRemaindersSkipExpiredCredits(t *testing.T) {
	old := expiring(row("1", TypeEarning, 100, 0), time.Hour)
	fresh := row("2", TypeEarning, 100, 30*time.Minute)
	redeem := row("3", TypeRedeem, -60, 2*time.Hour)
	redeem.RewardID = "r1"

	credits := Remainders([]*PointsTransaction{redeem, fresh, old})
	require.Len(t, credits, 2)
	require.Equal(t, int64(100), credits[0].Remaining)
	require.Equal(t, int64(40), credits[1].Remaining)
}

func TestFilterProgram(t *testing.T) {
	a := row("1", TypeEarning, 10, 0)
	a.ProgramID = "p1"
	b := row("2", TypeEarning, 20, time.Second)
	b.ProgramID = "p2"

	got := FilterProgram([]*PointsTransaction{a, b}, "p2")
	require.Len(t, got, 1)
	require.Equal(t, int64(20), Fold(got, base).Raw)
}

func TestValidateSigns(t *testing.T) {
	cases := []struct {
		name string
		tx   *PointsTransaction
		err  error
	}{
		{"earning positive", row("1", TypeEarning, 10, 0), nil},
		{"earning zero", row("1", TypeEarning, 0, 0), ErrInvalidDelta},
		{"hold positive", row("1", TypeHold, 10, 0), ErrInvalidDelta},
		{"adjustment zero", row("1", TypeAdjustment, 0, 0), ErrInvalidDelta},
		{"redeem without reward", row("1", TypeRedeem, -5, 0), ErrMissingReward},
		{"reversal without target", row("1", TypeReversal, 0, 0), ErrMissingReversal},
		{"unknown", row("1", TxType("BONUS"), 5, 0), ErrUnknownType},
		{"adjustment expiring", expiring(row("1", TypeAdjustment, 5, 0), time.Hour), ErrInvalidDelta},
		{"missing key", &PointsTransaction{Type: TypeEarning, PointsDelta: 1}, ErrMissingKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tx.Validate()
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestGenerateHashDependsOnPrevious(t *testing.T) {
	a := row("1", TypeEarning, 10, 0)
	a.PreviousHash = genesisHash
	b := *a
	b.PreviousHash = "other"

	require.Equal(t, a.GenerateHash(), a.GenerateHash())
	require.NotEqual(t, a.GenerateHash(), b.GenerateHash())
}
