package event

import (
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/catalog"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Trigger string

const (
	TriggerVisit        Trigger = "VISIT"
	TriggerPurchase     Trigger = "PURCHASE"
	TriggerReferral     Trigger = "REFERRAL"
	TriggerSubscription Trigger = "SUBSCRIPTION"
	TriggerRetention    Trigger = "RETENTION"
	TriggerCustom       Trigger = "CUSTOM"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerVisit, TriggerPurchase, TriggerReferral, TriggerSubscription, TriggerRetention, TriggerCustom:
		return true
	}
	return false
}

type AmountField string

const (
	AmountFieldNet   AmountField = "netAmount"
	AmountFieldGross AmountField = "grossAmount"
)

func (f AmountField) Valid() bool {
	return f == AmountFieldNet || f == AmountFieldGross
}

// Membership is the already-resolved snapshot of the member at event time.
type Membership struct {
	Tier     string    `json:"tier,omitempty"`
	TierRank int       `json:"tierRank"`
	Status   string    `json:"status,omitempty"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

type Item struct {
	SKU      string           `json:"sku,omitempty"`
	Category string           `json:"category,omitempty"`
	Quantity int              `json:"quantity,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

type Payload struct {
	NetAmount   *decimal.Decimal `json:"netAmount,omitempty"`
	GrossAmount *decimal.Decimal `json:"grossAmount,omitempty"`
	ItemCount   *int             `json:"itemCount,omitempty"`
	Items       []Item           `json:"items,omitempty"`
	StoreID     string           `json:"storeId,omitempty"`
	BranchID    string           `json:"branchId,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	Category    string           `json:"category,omitempty"`
	SKU         string           `json:"sku,omitempty"`
	Attributes  map[string]any   `json:"attributes,omitempty"`
}

// Amount returns the named monetary field and whether the event carried it.
func (p Payload) Amount(field AmountField) (decimal.Decimal, bool) {
	var v *decimal.Decimal
	switch field {
	case AmountFieldGross:
		v = p.GrossAmount
	default:
		v = p.NetAmount
	}
	if v == nil {
		return decimal.Zero, false
	}
	return *v, true
}

// Count returns the item count, falling back to the sum of line quantities.
func (p Payload) Count() (int, bool) {
	if p.ItemCount != nil {
		return *p.ItemCount, true
	}
	if len(p.Items) == 0 {
		return 0, false
	}
	n := 0
	for _, it := range p.Items {
		q := it.Quantity
		if q <= 0 {
			q = 1
		}
		n += q
	}
	return n, true
}

func (p Payload) Categories() []string {
	out := make([]string, 0, len(p.Items)+1)
	if p.Category != "" {
		out = append(out, p.Category)
	}
	for _, it := range p.Items {
		if it.Category != "" {
			out = append(out, it.Category)
		}
	}
	return out
}

func (p Payload) SKUs() []string {
	out := make([]string, 0, len(p.Items)+1)
	if p.SKU != "" {
		out = append(out, p.SKU)
	}
	for _, it := range p.Items {
		if it.SKU != "" {
			out = append(out, it.SKU)
		}
	}
	return out
}

// Event is one normalized business event for an already-resolved membership.
type Event struct {
	TenantID      string                `json:"tenantId"`
	EventType     Trigger               `json:"eventType"`
	SourceEventID string                `json:"sourceEventId"`
	OccurredAt    time.Time             `json:"occurredAt"`
	MembershipID  string                `json:"membershipId"`
	Membership    Membership            `json:"membership"`
	EarningDomain catalog.EarningDomain `json:"earningDomain,omitempty"`
	Payload       Payload               `json:"payload"`
	CorrelationID string                `json:"correlationId,omitempty"`
	Metadata      map[string]string     `json:"metadata,omitempty"`
}

func (e Event) Validate() error {
	var f errutil.Fields
	add := f.Add

	if strings.TrimSpace(e.TenantID) == "" {
		add("tenantId", "required")
	}
	if !e.EventType.Valid() {
		add("eventType", "unknown event type")
	}
	if strings.TrimSpace(e.SourceEventID) == "" {
		add("sourceEventId", "required")
	}
	if strings.TrimSpace(e.MembershipID) == "" {
		add("membershipId", "required")
	}
	if e.OccurredAt.IsZero() {
		add("occurredAt", "required")
	}

	return f.Err(errutil.StatusBadRequest, "invalid event")
}

// Attributes flattens the event into the maps exposed to eligibility expressions.
// Monetary values are converted to float64 since CEL has no decimal type.
func (e Event) Attributes() (payload, membership, meta map[string]any) {
	payload = map[string]any{
		"storeId":  e.Payload.StoreID,
		"branchId": e.Payload.BranchID,
		"channel":  e.Payload.Channel,
		"category": e.Payload.Category,
		"sku":      e.Payload.SKU,
	}
	if v, ok := e.Payload.Amount(AmountFieldNet); ok {
		payload["netAmount"] = v.InexactFloat64()
	}
	if v, ok := e.Payload.Amount(AmountFieldGross); ok {
		payload["grossAmount"] = v.InexactFloat64()
	}
	if n, ok := e.Payload.Count(); ok {
		payload["itemCount"] = int64(n)
	}
	items := make([]any, 0, len(e.Payload.Items))
	for _, it := range e.Payload.Items {
		m := map[string]any{"sku": it.SKU, "category": it.Category, "quantity": int64(it.Quantity)}
		if it.Amount != nil {
			m["amount"] = it.Amount.InexactFloat64()
		}
		items = append(items, m)
	}
	payload["items"] = items
	attrs := map[string]any{}
	for k, v := range e.Payload.Attributes {
		attrs[k] = v
	}
	payload["attributes"] = attrs

	membership = map[string]any{
		"id":       e.MembershipID,
		"tier":     e.Membership.Tier,
		"tierRank": int64(e.Membership.TierRank),
		"status":   e.Membership.Status,
	}

	meta = map[string]any{
		"tenantId":      e.TenantID,
		"eventType":     string(e.EventType),
		"sourceEventId": e.SourceEventID,
		"earningDomain": string(e.EarningDomain),
		"occurredAt":    e.OccurredAt.UTC().Format(time.RFC3339),
	}
	return payload, membership, meta
}

type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Record is the persisted intake row. (tenant_id, source_event_id) is unique
// so a redelivered event is stored once.
type Record struct {
	ID            string                    `gorm:"column:id;primaryKey" json:"id"`
	TenantID      string                    `gorm:"column:tenant_id;uniqueIndex:ux_event_source,priority:1" json:"tenantId"`
	SourceEventID string                    `gorm:"column:source_event_id;uniqueIndex:ux_event_source,priority:2" json:"sourceEventId"`
	EventType     string                    `gorm:"column:event_type" json:"eventType"`
	MembershipID  string                    `gorm:"column:membership_id;index" json:"membershipId"`
	OccurredAt    time.Time                 `gorm:"column:occurred_at" json:"occurredAt"`
	Event         datatypes.JSONType[Event] `gorm:"column:event" json:"event"`
	Status        Status                    `gorm:"column:status" json:"status"`
	Error         string                    `gorm:"column:error" json:"error,omitempty"`
	ProcessedAt   *time.Time                `gorm:"column:processed_at" json:"processedAt,omitempty"`
	CreatedAt     time.Time                 `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at" json:"updatedAt"`
}

func (Record) TableName() string {
	return "loyalty_events"
}
