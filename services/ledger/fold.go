package ledger

import (
	"sort"
	"time"
)

// Balance is a fold over one membership's transactions.
type Balance struct {
	// Raw is the sum of deltas with reversed rows contributing zero.
	Raw int64 `json:"raw"`
	// Available is Raw minus earned points that are past expiresAt but have
	// no EXPIRATION row yet.
	Available int64 `json:"available"`
	// Held is the total of open holds. It is already excluded from Raw.
	Held int64 `json:"held"`
	// PendingExpiry is the expired remainder subtracted from Raw.
	PendingExpiry int64     `json:"pendingExpiry"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt,omitempty"`
}

// Credit is an EARNING row's unconsumed remainder.
type Credit struct {
	Transaction *PointsTransaction
	Remaining   int64
}

func sortChronological(txs []*PointsTransaction) []*PointsTransaction {
	out := make([]*PointsTransaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func reversedSet(txs []*PointsTransaction) map[string]bool {
	out := make(map[string]bool)
	for _, t := range txs {
		if t.Type == TypeReversal && t.ReversalOfTransactionID != "" {
			out[t.ReversalOfTransactionID] = true
		}
	}
	return out
}

// closedHolds returns hold ids that have a RELEASE pointing at them.
func closedHolds(txs []*PointsTransaction, reversed map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, t := range txs {
		if t.Type == TypeRelease && t.RelatedTransactionID != "" && !reversed[t.ID] {
			out[t.RelatedTransactionID] = true
		}
	}
	return out
}

// Remainders allocates debits over credits in chronological order. A debit
// draws first-in-first-out from credits that are still unexpired when the
// debit was written; an EXPIRATION row consumes the EARNING row it names.
// A released hold and its RELEASE row cancel out and are not allocated.
func Remainders(txs []*PointsTransaction) []*Credit {
	ordered := sortChronological(txs)
	reversed := reversedSet(ordered)
	released := closedHolds(ordered, reversed)

	var credits []*Credit
	byID := make(map[string]*Credit)

	for _, t := range ordered {
		if reversed[t.ID] || t.Type == TypeReversal {
			continue
		}
		if t.Type == TypeHold && released[t.ID] {
			continue
		}
		if t.Type == TypeRelease && t.RelatedTransactionID != "" {
			continue
		}

		if t.PointsDelta > 0 {
			c := &Credit{Transaction: t, Remaining: t.PointsDelta}
			credits = append(credits, c)
			byID[t.ID] = c
			continue
		}

		need := -t.PointsDelta
		if t.Type == TypeExpiration && t.RelatedTransactionID != "" {
			if c, ok := byID[t.RelatedTransactionID]; ok {
				take := min(need, c.Remaining)
				c.Remaining -= take
				need -= take
			}
		}
		for _, c := range credits {
			if need == 0 {
				break
			}
			if c.Remaining == 0 || expired(c.Transaction, t.CreatedAt) {
				continue
			}
			take := min(need, c.Remaining)
			c.Remaining -= take
			need -= take
		}
	}
	return credits
}

func expired(t *PointsTransaction, at time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(at)
}

// Fold computes the membership balance as of now.
func Fold(txs []*PointsTransaction, now time.Time) Balance {
	reversed := reversedSet(txs)
	released := closedHolds(txs, reversed)

	var b Balance
	for _, t := range txs {
		if t.CreatedAt.After(b.LastUpdatedAt) {
			b.LastUpdatedAt = t.CreatedAt
		}
		if reversed[t.ID] {
			continue
		}
		b.Raw += t.PointsDelta
		if t.Type == TypeHold && !released[t.ID] {
			b.Held += -t.PointsDelta
		}
	}

	expiredIDs := expiredWithoutRow(txs)
	for _, c := range Remainders(txs) {
		if c.Remaining > 0 && expiredIDs[c.Transaction.ID] && expired(c.Transaction, now) {
			b.PendingExpiry += c.Remaining
		}
	}
	b.Available = b.Raw - b.PendingExpiry
	return b
}

// expiredWithoutRow returns the EARNING ids that have no EXPIRATION row yet.
func expiredWithoutRow(txs []*PointsTransaction) map[string]bool {
	done := make(map[string]bool)
	for _, t := range txs {
		if t.Type == TypeExpiration && t.RelatedTransactionID != "" {
			done[t.RelatedTransactionID] = true
		}
	}
	out := make(map[string]bool)
	for _, t := range txs {
		if t.Type == TypeEarning && t.ExpiresAt != nil && !done[t.ID] {
			out[t.ID] = true
		}
	}
	return out
}

// ExpiredRemainders lists EARNING credits that expired at or before now, have
// points left, and have no EXPIRATION row.
func ExpiredRemainders(txs []*PointsTransaction, now time.Time) []*Credit {
	pending := expiredWithoutRow(txs)
	var out []*Credit
	for _, c := range Remainders(txs) {
		if c.Remaining > 0 && pending[c.Transaction.ID] && expired(c.Transaction, now) {
			out = append(out, c)
		}
	}
	return out
}

// FilterProgram keeps the rows attributed to programID.
func FilterProgram(txs []*PointsTransaction, programID string) []*PointsTransaction {
	var out []*PointsTransaction
	for _, t := range txs {
		if t.ProgramID == programID {
			out = append(out, t)
		}
	}
	return out
}
