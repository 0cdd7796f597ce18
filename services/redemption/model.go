package redemption

import (
	"time"
)

const (
	WorkflowName   = "Redemption"
	SignalDecision = "redemption-decision"
	QueryState     = "state"

	DefaultHoldTimeout = 15 * time.Minute
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusHeld     Status = "held"
	StatusRedeemed Status = "redeemed"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"
	StatusFailed   Status = "failed"
)

type Request struct {
	TenantID       string        `json:"tenantId"`
	MembershipID   string        `json:"membershipId"`
	RewardID       string        `json:"rewardId"`
	Points         int64         `json:"points"`
	IdempotencyKey string        `json:"idempotencyKey"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	HoldTimeout    time.Duration `json:"holdTimeout,omitempty"`
}

// Decision is sent by the fulfilment side once the reward is issued or
// abandoned.
type Decision struct {
	Confirm bool   `json:"confirm"`
	Reason  string `json:"reason,omitempty"`
}

// State is what the workflow reports through QueryState and returns on
// completion.
type State struct {
	WorkflowID string `json:"workflowId,omitempty"`
	Status     Status `json:"status"`
	HoldID     string `json:"holdId,omitempty"`
	RedeemID   string `json:"redeemId,omitempty"`
	ReleaseID  string `json:"releaseId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// WorkflowID is stable per (tenant, idempotency key) so a retried start
// attaches to the running redemption.
func WorkflowID(tenantID, idempotencyKey string) string {
	return "redemption:" + tenantID + ":" + idempotencyKey
}
