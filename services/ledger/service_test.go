package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/outbox"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, mutate ...func(*config.Config)) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &PointsTransaction{}, &outbox.Message{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	for _, m := range mutate {
		m(cfg)
	}
	return NewService(ServiceParams{DB: db, Node: node, Clock: clock.Fixed(now), Config: cfg}), db
}

func earning(membershipID, key string, points int64, expiresAt *time.Time) *PointsTransaction {
	return &PointsTransaction{
		TenantID:       "t1",
		MembershipID:   membershipID,
		Type:           TypeEarning,
		PointsDelta:    points,
		IdempotencyKey: key,
		SourceEventID:  "evt-" + key,
		ProgramID:      "prog-base",
		RewardRuleID:   "rule-1",
		ExpiresAt:      expiresAt,
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Append(ctx, earning("m1", "evt-1:rule-1", 100, nil))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, genesisHash, first.PreviousHash)
	require.NotEmpty(t, first.Hash)

	again, created, err := svc.Append(ctx, earning("m1", "evt-1:rule-1", 100, nil))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&PointsTransaction{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAppendBatchChainsRows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.AppendBatch(ctx, []*PointsTransaction{
		earning("m1", "a", 10, nil),
		earning("m1", "b", 20, nil),
		earning("m2", "c", 30, nil),
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, res[0].Transaction.Hash, res[1].Transaction.PreviousHash)
	require.Equal(t, genesisHash, res[2].Transaction.PreviousHash)

	ok, err := svc.VerifyChain(ctx, "t1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAppendRejectsInvalidRows(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Append(context.Background(), earning("m1", "", 10, nil))
	require.Error(t, err)
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestAppendWritesOutbox(t *testing.T) {
	svc, db := newTestService(t, func(c *config.Config) { c.Kafka.Topic = "loyalty.ledger" })

	_, _, err := svc.Append(context.Background(), earning("m1", "k1", 10, nil))
	require.NoError(t, err)

	var msgs []outbox.Message
	require.NoError(t, db.Find(&msgs).Error)
	require.Len(t, msgs, 1)
	require.Equal(t, "loyalty.ledger", msgs[0].Topic)
	require.Equal(t, "t1:m1", msgs[0].Key)
	require.Equal(t, string(TypeEarning), msgs[0].EventType)
}

func TestTransactionsAreImmutable(t *testing.T) {
	svc, db := newTestService(t)

	tx, _, err := svc.Append(context.Background(), earning("m1", "k1", 10, nil))
	require.NoError(t, err)

	err = db.Model(tx).Update("points_delta", 99).Error
	require.ErrorIs(t, err, ErrImmutable)

	err = db.Delete(tx).Error
	require.ErrorIs(t, err, ErrImmutable)

	got, err := svc.Get(context.Background(), "t1", tx.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.PointsDelta)
}

func TestReverseEarning(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	earn, _, err := svc.Append(ctx, earning("m1", "k1", 100, nil))
	require.NoError(t, err)

	rev, err := svc.Reverse(ctx, "t1", earn.ID, "refund")
	require.NoError(t, err)
	require.Equal(t, TypeReversal, rev.Type)
	require.Equal(t, earn.ID, rev.ReversalOfTransactionID)
	require.Equal(t, "prog-base", rev.ProgramID)

	again, err := svc.Reverse(ctx, "t1", earn.ID, "refund")
	require.NoError(t, err)
	require.Equal(t, rev.ID, again.ID)

	bal, err := svc.Balance(ctx, "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Available)

	_, err = svc.Reverse(ctx, "t1", rev.ID, "")
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestEarningsInPeriodExcludesReversed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _, err := svc.Append(ctx, earning("m1", "a", 10, nil))
	require.NoError(t, err)
	_, _, err = svc.Append(ctx, earning("m1", "b", 20, nil))
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, "t1", a.ID, "")
	require.NoError(t, err)

	rows, err := svc.EarningsInPeriod(ctx, EarningsQuery{
		TenantID:     "t1",
		MembershipID: "m1",
		RuleID:       "rule-1",
		Start:        now.Add(-time.Hour),
		End:          now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(20), rows[0].PointsDelta)
}

func TestHoldReleaseRedeem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Append(ctx, earning("m1", "k1", 100, nil))
	require.NoError(t, err)

	hold, err := svc.Hold(ctx, HoldRequest{TenantID: "t1", MembershipID: "m1", Points: 60, RewardID: "rw1", IdempotencyKey: "hold-1"})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, int64(40), bal.Available)
	require.Equal(t, int64(60), bal.Held)

	_, err = svc.Hold(ctx, HoldRequest{TenantID: "t1", MembershipID: "m1", Points: 50, RewardID: "rw1", IdempotencyKey: "hold-2"})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	rel, err := svc.Release(ctx, "t1", hold.ID)
	require.NoError(t, err)
	require.Equal(t, int64(60), rel.PointsDelta)

	again, err := svc.Release(ctx, "t1", hold.ID)
	require.NoError(t, err)
	require.Equal(t, rel.ID, again.ID)

	bal, err = svc.Balance(ctx, "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, int64(100), bal.Available)

	hold2, err := svc.Hold(ctx, HoldRequest{TenantID: "t1", MembershipID: "m1", Points: 30, RewardID: "rw1", IdempotencyKey: "hold-3"})
	require.NoError(t, err)

	redeem, err := svc.Redeem(ctx, RedeemRequest{TenantID: "t1", MembershipID: "m1", RewardID: "rw1", HoldID: hold2.ID, IdempotencyKey: "redeem-1"})
	require.NoError(t, err)
	require.Equal(t, int64(-30), redeem.PointsDelta)
	require.Equal(t, hold2.ID, redeem.RelatedTransactionID)

	bal, err = svc.Balance(ctx, "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, int64(70), bal.Available)
	require.Equal(t, int64(0), bal.Held)

	_, err = svc.Redeem(ctx, RedeemRequest{TenantID: "t1", MembershipID: "m1", RewardID: "rw1", HoldID: hold2.ID, IdempotencyKey: "redeem-2"})
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestRedeemDirectInsufficient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Append(ctx, earning("m1", "k1", 10, nil))
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, RedeemRequest{TenantID: "t1", MembershipID: "m1", Points: 11, RewardID: "rw1", IdempotencyKey: "r1"})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	_, err = svc.Redeem(ctx, RedeemRequest{TenantID: "t1", MembershipID: "m1", Points: 10, IdempotencyKey: "r2"})
	require.ErrorIs(t, err, ErrMissingReward)
}

func TestAdjust(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustRequest{TenantID: "t1", MembershipID: "m1", Points: -5, IdempotencyKey: "adj-0"})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	adj, err := svc.Adjust(ctx, AdjustRequest{TenantID: "t1", MembershipID: "m1", Points: 25, Reason: "goodwill", IdempotencyKey: "adj-1"})
	require.NoError(t, err)
	require.Equal(t, TypeAdjustment, adj.Type)
	require.Contains(t, string(adj.Metadata), "goodwill")

	_, err = svc.Adjust(ctx, AdjustRequest{TenantID: "t1", MembershipID: "m1", Points: 0, IdempotencyKey: "adj-2"})
	require.ErrorIs(t, err, ErrInvalidDelta)
}

func TestExpireDue(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	soon := now.Add(24 * time.Hour)
	_, _, err := svc.Append(ctx, earning("m1", "k1", 100, &soon))
	require.NoError(t, err)
	_, _, err = svc.Append(ctx, earning("m2", "k2", 50, &soon))
	require.NoError(t, err)
	_, _, err = svc.Append(ctx, earning("m2", "k3", 5, nil))
	require.NoError(t, err)

	later := now.Add(48 * time.Hour)
	svc.clock = clock.Fixed(later)

	tenants, err := svc.TenantsWithExpiredCredits(ctx, later)
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, tenants)

	n, err := svc.ExpireDue(ctx, "t1", later)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = svc.ExpireDue(ctx, "t1", later)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	var rows []PointsTransaction
	require.NoError(t, db.Where("type = ?", TypeExpiration).Order("membership_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, int64(-100), rows[0].PointsDelta)
	require.True(t, rows[0].OccurredAt.Equal(soon))

	bal, err := svc.Balance(ctx, "t1", "m2")
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.Raw)
	require.Equal(t, int64(5), bal.Available)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Append(ctx, earning("m1", "a", 10, nil))
	require.NoError(t, err)
	second, _, err := svc.Append(ctx, earning("m1", "b", 20, nil))
	require.NoError(t, err)

	// bypass the model hooks the way a direct database edit would
	require.NoError(t, db.Exec("UPDATE points_transactions SET points_delta = ? WHERE id = ?", 2000, second.ID).Error)

	ok, err := svc.VerifyChain(ctx, "t1", "m1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatementPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := svc.Append(ctx, earning("m1", fmt.Sprintf("k%d", i), int64(i+1), nil))
		require.NoError(t, err)
	}

	rows, info, err := svc.Statement(ctx, "t1", "m1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := svc.Statement(ctx, "t1", "m1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
	require.NotEqual(t, rows[1].ID, rest[0].ID)

	_, _, err = svc.Statement(ctx, "t1", "m1", pagination.Pagination{Cursor: "not-a-cursor"})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

type objectStoreMock struct {
	bucket, key string
	body        string
	err         error
}

func (m *objectStoreMock) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.err != nil {
		return minio.UploadInfo{}, m.err
	}
	b, _ := io.ReadAll(reader)
	m.bucket, m.key, m.body = bucketName, objectName, string(b)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestExportStatement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ExportStatement(ctx, "t1", "m1")
	require.True(t, errutil.Is(err, errutil.StatusNotImplemented))

	store := &objectStoreMock{}
	svc.objects, svc.bucket = store, "statements"

	_, _, err = svc.Append(ctx, earning("m1", "k1", 10, nil))
	require.NoError(t, err)

	key, err := svc.ExportStatement(ctx, "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, "statements/t1/m1/20250610T080000Z.csv", key)
	require.Equal(t, "statements", store.bucket)

	lines := strings.Split(strings.TrimSpace(store.body), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "id,created_at"))
	require.Contains(t, lines[1], ",EARNING,10,k1,")

	store.err = errors.New("bucket unavailable")
	_, err = svc.ExportStatement(ctx, "t1", "m1")
	require.Error(t, err)
}

func TestServerAddEntry(t *testing.T) {
	svc, db := newTestService(t)
	srv := NewServer(db, svc)
	ctx := context.Background()

	entry, err := srv.AddEntry(ctx, &ledgerv1.AddEntryRequest{
		TenantId: "t1", MemberId: "m1", Type: ledgerv1.EntryType_CREDIT, Amount: 40, ReferenceId: "ref-1",
	})
	require.NoError(t, err)
	require.Equal(t, ledgerv1.EntryType_CREDIT, entry.GetType())
	require.Equal(t, int64(40), entry.GetAmount())

	_, err = srv.AddEntry(ctx, &ledgerv1.AddEntryRequest{
		TenantId: "t1", MemberId: "m1", Type: ledgerv1.EntryType_DEBIT, Amount: 15, ReferenceId: "ref-2",
	})
	require.NoError(t, err)

	bal, err := srv.GetBalance(ctx, &ledgerv1.GetBalanceRequest{TenantId: "t1", MemberId: "m1"})
	require.NoError(t, err)
	require.Equal(t, int64(25), bal.GetBalance())

	list, err := srv.ListEntries(ctx, &ledgerv1.ListEntriesRequest{TenantId: "t1", MemberId: "m1"})
	require.NoError(t, err)
	require.Len(t, list.GetData(), 2)
	require.Equal(t, ledgerv1.EntryType_DEBIT, list.GetData()[1].GetType())

	got, err := srv.GetEntry(ctx, &ledgerv1.GetEntryRequest{Id: entry.GetId()})
	require.NoError(t, err)
	require.Equal(t, entry.GetId(), got.GetId())

	valid, err := srv.VerifyChain(ctx, &ledgerv1.VerifyChainRequest{TenantId: "t1", MemberId: "m1"})
	require.NoError(t, err)
	require.True(t, valid.GetValid())

	_, err = srv.AddEntry(ctx, &ledgerv1.AddEntryRequest{TenantId: "t1", MemberId: "m1", Type: ledgerv1.EntryType_DEBIT, Amount: 0, ReferenceId: "ref-3"})
	require.Error(t, err)
}
