package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TxType string

const (
	TypeEarning    TxType = "EARNING"
	TypeRedeem     TxType = "REDEEM"
	TypeAdjustment TxType = "ADJUSTMENT"
	TypeReversal   TxType = "REVERSAL"
	TypeExpiration TxType = "EXPIRATION"
	TypeHold       TxType = "HOLD"
	TypeRelease    TxType = "RELEASE"
)

const genesisHash = "GENESIS"

var (
	ErrImmutable       = errors.New("ledger_transactions_are_immutable")
	ErrInvalidDelta    = errors.New("invalid_points_delta")
	ErrMissingKey      = errors.New("idempotency_key_required")
	ErrMissingReward   = errors.New("reward_id_required")
	ErrMissingReversal = errors.New("reversal_target_required")
	ErrUnknownType     = errors.New("unknown_transaction_type")
)

// PointsTransaction is one ledger row. Rows are written once and chained per
// membership through PreviousHash/Hash.
type PointsTransaction struct {
	ID                      string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID                string         `gorm:"column:tenant_id;uniqueIndex:ux_ledger_idempotency,priority:1;index:idx_ledger_membership,priority:1" json:"tenantId"`
	MembershipID            string         `gorm:"column:membership_id;index:idx_ledger_membership,priority:2" json:"membershipId"`
	Type                    TxType         `gorm:"column:type" json:"type"`
	PointsDelta             int64          `gorm:"column:points_delta" json:"pointsDelta"`
	IdempotencyKey          string         `gorm:"column:idempotency_key;uniqueIndex:ux_ledger_idempotency,priority:2" json:"idempotencyKey"`
	SourceEventID           string         `gorm:"column:source_event_id" json:"sourceEventId,omitempty"`
	CorrelationID           string         `gorm:"column:correlation_id" json:"correlationId,omitempty"`
	ReversalOfTransactionID string         `gorm:"column:reversal_of_transaction_id;index" json:"reversalOfTransactionId,omitempty"`
	RelatedTransactionID    string         `gorm:"column:related_transaction_id;index" json:"relatedTransactionId,omitempty"`
	ExpiresAt               *time.Time     `gorm:"column:expires_at;index" json:"expiresAt,omitempty"`
	RewardID                string         `gorm:"column:reward_id" json:"rewardId,omitempty"`
	ProgramID               string         `gorm:"column:program_id" json:"programId,omitempty"`
	RewardRuleID            string         `gorm:"column:reward_rule_id" json:"rewardRuleId,omitempty"`
	OccurredAt              time.Time      `gorm:"column:occurred_at" json:"occurredAt"`
	Metadata                datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash            string         `gorm:"column:previous_hash" json:"previousHash"`
	Hash                    string         `gorm:"column:hash" json:"hash"`
	CreatedAt               time.Time      `gorm:"column:created_at;index:idx_ledger_membership,priority:3" json:"createdAt"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }

func (t *PointsTransaction) BeforeUpdate(tx *gorm.DB) error { return ErrImmutable }
func (t *PointsTransaction) BeforeDelete(tx *gorm.DB) error { return ErrImmutable }

// Validate enforces the per-type sign and reference rules.
func (t *PointsTransaction) Validate() error {
	if strings.TrimSpace(t.IdempotencyKey) == "" {
		return ErrMissingKey
	}
	d := t.PointsDelta
	switch t.Type {
	case TypeEarning, TypeRelease:
		if d <= 0 {
			return fmt.Errorf("%w: %s must be > 0", ErrInvalidDelta, t.Type)
		}
	case TypeRedeem, TypeExpiration, TypeHold:
		if d >= 0 {
			return fmt.Errorf("%w: %s must be < 0", ErrInvalidDelta, t.Type)
		}
	case TypeAdjustment:
		if d == 0 {
			return fmt.Errorf("%w: ADJUSTMENT must be non-zero", ErrInvalidDelta)
		}
	case TypeReversal:
		if d != 0 {
			return fmt.Errorf("%w: REVERSAL carries 0", ErrInvalidDelta)
		}
		if t.ReversalOfTransactionID == "" {
			return ErrMissingReversal
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t.Type)
	}
	if t.Type == TypeRedeem && t.RewardID == "" {
		return ErrMissingReward
	}
	if t.Type != TypeEarning && t.ExpiresAt != nil {
		return fmt.Errorf("%w: only EARNING rows expire", ErrInvalidDelta)
	}
	return nil
}

func (t *PointsTransaction) HashFields() map[string]string {
	return map[string]string{
		"id":                         t.ID,
		"tenant_id":                  t.TenantID,
		"membership_id":              t.MembershipID,
		"type":                       string(t.Type),
		"points_delta":               fmt.Sprintf("%d", t.PointsDelta),
		"idempotency_key":            t.IdempotencyKey,
		"source_event_id":            t.SourceEventID,
		"reversal_of_transaction_id": t.ReversalOfTransactionID,
		"related_transaction_id":     t.RelatedTransactionID,
		"reward_id":                  t.RewardID,
		"program_id":                 t.ProgramID,
		"reward_rule_id":             t.RewardRuleID,
		"created_at":                 t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":              t.PreviousHash,
	}
}

func (t *PointsTransaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
