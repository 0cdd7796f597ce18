package loyalty

import (
	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/ledger"
)

// Reason codes reported on evaluations that did not come from the
// eligibility filter or the conflict resolver.
const (
	ReasonAwarded          = "awarded"
	ReasonReplayed         = "already awarded"
	ReasonBucketClaimed    = "already awarded in this idempotency window"
	ReasonProgramInactive  = "program not active"
	ReasonDomainMismatch   = "earning domain mismatch"
	ReasonDomainNotAllowed = "earning domain not allowed by program"
	ReasonZeroPoints       = "zero points"
	ReasonDuplicateKey     = "idempotency key already claimed"
	ReasonCooldown         = "cooldown active"
	ReasonFrequency        = "frequency limit reached"
	ReasonProgramStacking  = "excluded by program stacking policy"
)

// Evaluation is the per-rule trace of one event.
type Evaluation struct {
	RuleID         string                `json:"ruleId"`
	ProgramID      string                `json:"programId"`
	ConflictGroup  catalog.ConflictGroup `json:"conflictGroup,omitempty"`
	StackPolicy    catalog.StackPolicy   `json:"stackPolicy,omitempty"`
	PriorityRank   int                   `json:"priorityRank"`
	Points         int64                 `json:"points"`
	EarningDomain  catalog.EarningDomain `json:"earningDomain,omitempty"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
	ReasonCode     string                `json:"reasonCode"`
}

type Skip struct {
	Reason    string `json:"reason"`
	RuleID    string `json:"ruleId,omitempty"`
	ProgramID string `json:"programId,omitempty"`
}

// Result always describes the whole event, including rules that were skipped.
// TransactionsCreated holds only rows written by this call; TotalPointsAwarded
// also counts rows found from an earlier attempt so a replay reports the same
// total.
type Result struct {
	EventID             string                      `json:"eventId"`
	MembershipID        string                      `json:"membershipId"`
	ProgramsProcessed   []string                    `json:"programsProcessed"`
	TransactionsCreated []*ledger.PointsTransaction `json:"transactionsCreated"`
	TotalPointsAwarded  int64                       `json:"totalPointsAwarded"`
	Evaluations         []Evaluation                `json:"evaluations"`
	Skipped             []Skip                      `json:"skipped"`
	Warnings            []string                    `json:"warnings"`
}

func (r *Result) skip(reason, ruleID, programID string) {
	r.Skipped = append(r.Skipped, Skip{Reason: reason, RuleID: ruleID, ProgramID: programID})
}
