package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{ID: "x"}, nil
}

func newTestService(t *testing.T) (*Service, *enqueuerMock) {
	db := testutil.NewTestDB(t, &Record{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Loyalty.ProcessQueue = "loyalty"

	enq := &enqueuerMock{}
	return NewService(ServiceParams{DB: db, Node: node, Config: cfg, Enqueuer: enq}), enq
}

func purchase() Event {
	amount := decimal.RequireFromString("250.00")
	return Event{
		TenantID:      "tenant-1",
		EventType:     TriggerPurchase,
		SourceEventID: "ord-1",
		OccurredAt:    time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		MembershipID:  "mem-1",
		Payload:       Payload{NetAmount: &amount},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, purchase().Validate())

	err := Event{EventType: "BOGUS"}.Validate()
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Details, 5)
}

func TestIngestStoresOnceAndEnqueues(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	rec, dup, err := svc.Ingest(ctx, purchase())
	require.NoError(t, err)
	require.False(t, dup)
	require.Equal(t, StatusReceived, rec.Status)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.LoyaltyProcessEvent, enq.tasks[0].Type())

	var payload ProcessEventPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, rec.ID, payload.EventID)

	again, dup, err := svc.Ingest(ctx, purchase())
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, rec.ID, again.ID)
	require.Len(t, enq.tasks, 1)

	stored, err := svc.Get(ctx, "tenant-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, "250", stored.Event.Data().Payload.NetAmount.String())
}

func TestMarkProcessed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, _, err := svc.Ingest(ctx, purchase())
	require.NoError(t, err)

	require.NoError(t, svc.MarkProcessed(ctx, rec.ID, nil))
	got, err := svc.Get(ctx, "tenant-1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)

	_, err = svc.Get(ctx, "tenant-2", rec.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestPayloadHelpers(t *testing.T) {
	ten := decimal.NewFromInt(10)
	p := Payload{
		Category: "food",
		Items: []Item{
			{SKU: "A1", Category: "drinks", Quantity: 2, Amount: &ten},
			{SKU: "B2"},
		},
	}

	_, ok := p.Amount(AmountFieldNet)
	require.False(t, ok)

	n, ok := p.Count()
	require.True(t, ok)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"food", "drinks"}, p.Categories())
	require.Equal(t, []string{"A1", "B2"}, p.SKUs())

	ev := purchase()
	ev.Payload.Items = p.Items
	payload, membership, meta := ev.Attributes()
	require.Equal(t, 250.0, payload["netAmount"])
	require.Equal(t, int64(0), membership["tierRank"])
	require.Equal(t, "PURCHASE", meta["eventType"])
}
