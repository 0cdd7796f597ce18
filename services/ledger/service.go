package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/outbox"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxAppendAttempts = 3

var tracer = otel.Tracer("smallbiznis-loyalty/services/ledger")

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	store Store

	objects     ObjectStore
	bucket      string
	topic       string
	concurrency int
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Clock   clock.Clock
	Config  *config.Config
	Objects ObjectStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	concurrency := p.Config.Loyalty.ExpiryConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		clock:       p.Clock,
		store:       NewStore(p.DB),
		objects:     p.Objects,
		bucket:      p.Config.Minio.BucketName,
		topic:       p.Config.Kafka.Topic,
		concurrency: concurrency,
	}
}

func logFields(ctx context.Context, fields ...zap.Field) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	return zap.L().With(append([]zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}, fields...)...)
}

// AppendResult pairs the stored row with whether this call created it.
type AppendResult struct {
	Transaction *PointsTransaction
	Created     bool
}

// Append stores t unless its idempotency key already exists, in which case
// the existing row is returned.
func (s *Service) Append(ctx context.Context, t *PointsTransaction) (*PointsTransaction, bool, error) {
	res, err := s.AppendBatch(ctx, []*PointsTransaction{t})
	if err != nil {
		return nil, false, err
	}
	return res[0].Transaction, res[0].Created, nil
}

// AppendBatch stores rows in one database transaction together with their
// outbox messages. A unique-key race with a concurrent writer is retried so
// the loser returns the winner's rows.
func (s *Service) AppendBatch(ctx context.Context, txs []*PointsTransaction) ([]AppendResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.AppendBatch", trace.WithAttributes(attribute.Int("ledger.rows", len(txs))))
	defer span.End()

	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return nil, errutil.BadRequest("invalid ledger transaction", err)
		}
	}

	var (
		out []AppendResult
		err error
	)
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			out, err = s.appendTx(ctx, tx, txs)
			return err
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		logFields(ctx).Warn("idempotency key race, retrying append", zap.Int("attempt", attempt))
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func (s *Service) appendTx(ctx context.Context, tx *gorm.DB, txs []*PointsTransaction) ([]AppendResult, error) {
	store := s.store.WithTrx(tx)
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	heads := make(map[string]string)
	results := make([]AppendResult, len(txs))
	msgs := make([]*outbox.Message, 0, len(txs))

	for i, t := range txs {
		existing, err := store.FindByKey(ctx, t.TenantID, t.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			results[i] = AppendResult{Transaction: existing}
			continue
		}

		chain := t.TenantID + "/" + t.MembershipID
		head, ok := heads[chain]
		if !ok {
			last, err := store.Head(ctx, t.TenantID, t.MembershipID)
			if err != nil {
				return nil, err
			}
			head = genesisHash
			if last != nil {
				head = last.Hash
			}
		}

		row := *t
		row.ID = s.node.Generate().String()
		row.CreatedAt = now
		if row.OccurredAt.IsZero() {
			row.OccurredAt = now
		}
		row.OccurredAt = row.OccurredAt.UTC()
		row.PreviousHash = head
		row.Hash = row.GenerateHash()

		if err := store.Insert(ctx, &row); err != nil {
			return nil, err
		}
		heads[chain] = row.Hash
		results[i] = AppendResult{Transaction: &row, Created: true}

		if s.topic != "" {
			msg, err := outbox.NewMessage(s.topic, row.TenantID+":"+row.MembershipID, string(row.Type), &row)
			if err != nil {
				return nil, err
			}
			msg.CreatedAt = now
			msgs = append(msgs, msg)
		}
	}

	if err := outbox.Write(ctx, tx, msgs...); err != nil {
		return nil, err
	}
	return results, nil
}

// appendChecked runs build against the membership's current rows inside the
// append transaction so balance checks and the write see the same state.
func (s *Service) appendChecked(ctx context.Context, tenantID, membershipID string,
	build func(rows []*PointsTransaction, bal Balance) ([]*PointsTransaction, error)) ([]AppendResult, error) {

	var out []AppendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTrx(tx)
		if _, err := store.Head(ctx, tenantID, membershipID); err != nil {
			return err
		}
		rows, err := store.ListByMembership(ctx, tenantID, membershipID)
		if err != nil {
			return err
		}

		txs, err := build(rows, Fold(rows, s.clock.Now()))
		if err != nil {
			return err
		}
		for _, t := range txs {
			if err := t.Validate(); err != nil {
				return errutil.BadRequest("invalid ledger transaction", err)
			}
		}

		out, err = s.appendTx(ctx, tx, txs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func findKey(rows []*PointsTransaction, key string) *PointsTransaction {
	for _, r := range rows {
		if r.IdempotencyKey == key {
			return r
		}
	}
	return nil
}

func findID(rows []*PointsTransaction, id string) *PointsTransaction {
	for _, r := range rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Service) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*PointsTransaction, error) {
	return s.store.FindByKey(ctx, tenantID, key)
}

func (s *Service) FindByIdempotencyKeys(ctx context.Context, tenantID string, keys []string) (map[string]*PointsTransaction, error) {
	rows, err := s.store.FindByKeys(ctx, tenantID, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*PointsTransaction, len(rows))
	for _, r := range rows {
		out[r.IdempotencyKey] = r
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (*PointsTransaction, error) {
	t, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("transaction not found", nil)
	}
	return t, nil
}

func (s *Service) Balance(ctx context.Context, tenantID, membershipID string) (Balance, error) {
	rows, err := s.store.ListByMembership(ctx, tenantID, membershipID)
	if err != nil {
		logFields(ctx, zap.String("membership_id", membershipID)).Error("failed to load transactions", zap.Error(err))
		return Balance{}, err
	}
	return Fold(rows, s.clock.Now()), nil
}

func (s *Service) BalanceByProgram(ctx context.Context, tenantID, membershipID, programID string) (Balance, error) {
	rows, err := s.store.ListByMembership(ctx, tenantID, membershipID)
	if err != nil {
		return Balance{}, err
	}
	return Fold(FilterProgram(rows, programID), s.clock.Now()), nil
}

// EarningsInPeriod returns EARNING rows in [q.Start, q.End) that have not
// been reversed.
func (s *Service) EarningsInPeriod(ctx context.Context, q EarningsQuery) ([]*PointsTransaction, error) {
	rows, err := s.store.Earnings(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	reversals, err := s.store.ReversalsOf(ctx, q.TenantID, ids)
	if err != nil {
		return nil, err
	}
	reversed := reversedSet(reversals)

	out := rows[:0]
	for _, r := range rows {
		if !reversed[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// Statement pages through the membership's transactions oldest first.
func (s *Service) Statement(ctx context.Context, tenantID, membershipID string, p pagination.Pagination) ([]*PointsTransaction, *pagination.PageInfo, error) {
	if p.Cursor != "" {
		if _, err := pagination.DecodeCursor(p.Cursor); err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
	}

	rows, err := s.store.Page(ctx, tenantID, membershipID, p)
	if err != nil {
		return nil, nil, err
	}

	return pagination.Page(rows, p, func(t *PointsTransaction) pagination.Cursor {
		return pagination.Cursor{
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        t.ID,
		}
	})
}

type AdjustRequest struct {
	TenantID       string            `json:"tenantId"`
	MembershipID   string            `json:"membershipId"`
	Points         int64             `json:"points"`
	Reason         string            `json:"reason"`
	IdempotencyKey string            `json:"idempotencyKey"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Adjust writes a manual correction. A negative adjustment may not exceed
// the available balance.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*PointsTransaction, error) {
	if req.Points == 0 {
		return nil, errutil.BadRequest("points must be non-zero", ErrInvalidDelta)
	}
	meta := map[string]any{"reason": req.Reason}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	res, err := s.appendChecked(ctx, req.TenantID, req.MembershipID, func(rows []*PointsTransaction, bal Balance) ([]*PointsTransaction, error) {
		if findKey(rows, req.IdempotencyKey) == nil && req.Points < 0 && bal.Available < -req.Points {
			return nil, insufficient(bal.Available, -req.Points)
		}
		return []*PointsTransaction{{
			TenantID:       req.TenantID,
			MembershipID:   req.MembershipID,
			Type:           TypeAdjustment,
			PointsDelta:    req.Points,
			IdempotencyKey: req.IdempotencyKey,
			CorrelationID:  req.CorrelationID,
			Metadata:       jsonMeta(meta),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res[0].Transaction, nil
}

type HoldRequest struct {
	TenantID       string `json:"tenantId"`
	MembershipID   string `json:"membershipId"`
	Points         int64  `json:"points"`
	RewardID       string `json:"rewardId"`
	IdempotencyKey string `json:"idempotencyKey"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

// Hold reserves points for a pending redemption.
func (s *Service) Hold(ctx context.Context, req HoldRequest) (*PointsTransaction, error) {
	if req.Points <= 0 {
		return nil, errutil.BadRequest("points must be > 0", ErrInvalidDelta)
	}
	res, err := s.appendChecked(ctx, req.TenantID, req.MembershipID, func(rows []*PointsTransaction, bal Balance) ([]*PointsTransaction, error) {
		if findKey(rows, req.IdempotencyKey) == nil && bal.Available < req.Points {
			return nil, insufficient(bal.Available, req.Points)
		}
		return []*PointsTransaction{{
			TenantID:       req.TenantID,
			MembershipID:   req.MembershipID,
			Type:           TypeHold,
			PointsDelta:    -req.Points,
			IdempotencyKey: req.IdempotencyKey,
			CorrelationID:  req.CorrelationID,
			RewardID:       req.RewardID,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res[0].Transaction, nil
}

func releaseKey(holdID string) string { return "release:" + holdID }

// Release returns held points. Releasing an already closed hold returns the
// existing RELEASE row.
func (s *Service) Release(ctx context.Context, tenantID, holdID string) (*PointsTransaction, error) {
	hold, err := s.Get(ctx, tenantID, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Type != TypeHold {
		return nil, errutil.BadRequest("transaction is not a hold", nil)
	}

	res, err := s.appendChecked(ctx, tenantID, hold.MembershipID, func(rows []*PointsTransaction, _ Balance) ([]*PointsTransaction, error) {
		if existing := findKey(rows, releaseKey(holdID)); existing != nil {
			return []*PointsTransaction{existing}, nil
		}
		return []*PointsTransaction{releaseOf(hold)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res[0].Transaction, nil
}

func releaseOf(hold *PointsTransaction) *PointsTransaction {
	return &PointsTransaction{
		TenantID:             hold.TenantID,
		MembershipID:         hold.MembershipID,
		Type:                 TypeRelease,
		PointsDelta:          -hold.PointsDelta,
		IdempotencyKey:       releaseKey(hold.ID),
		CorrelationID:        hold.CorrelationID,
		RelatedTransactionID: hold.ID,
		RewardID:             hold.RewardID,
	}
}

type RedeemRequest struct {
	TenantID       string `json:"tenantId"`
	MembershipID   string `json:"membershipId"`
	Points         int64  `json:"points"`
	RewardID       string `json:"rewardId"`
	HoldID         string `json:"holdId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

// Redeem debits points for a reward. With HoldID set the hold is released
// and the redemption written in the same transaction, for the held amount.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*PointsTransaction, error) {
	if req.RewardID == "" {
		return nil, errutil.BadRequest("rewardId is required", ErrMissingReward)
	}

	var hold *PointsTransaction
	if req.HoldID != "" {
		h, err := s.Get(ctx, req.TenantID, req.HoldID)
		if err != nil {
			return nil, err
		}
		if h.Type != TypeHold || h.MembershipID != req.MembershipID {
			return nil, errutil.BadRequest("hold does not belong to membership", nil)
		}
		hold = h
		req.Points = -h.PointsDelta
	}
	if req.Points <= 0 {
		return nil, errutil.BadRequest("points must be > 0", ErrInvalidDelta)
	}

	res, err := s.appendChecked(ctx, req.TenantID, req.MembershipID, func(rows []*PointsTransaction, bal Balance) ([]*PointsTransaction, error) {
		if existing := findKey(rows, req.IdempotencyKey); existing != nil {
			return []*PointsTransaction{existing}, nil
		}

		redeem := &PointsTransaction{
			TenantID:       req.TenantID,
			MembershipID:   req.MembershipID,
			Type:           TypeRedeem,
			PointsDelta:    -req.Points,
			IdempotencyKey: req.IdempotencyKey,
			CorrelationID:  req.CorrelationID,
			RewardID:       req.RewardID,
		}

		if hold == nil {
			if bal.Available < req.Points {
				return nil, insufficient(bal.Available, req.Points)
			}
			return []*PointsTransaction{redeem}, nil
		}

		if findKey(rows, releaseKey(hold.ID)) != nil {
			return nil, errutil.Conflict("hold is already closed", nil)
		}
		redeem.RelatedTransactionID = hold.ID
		return []*PointsTransaction{releaseOf(hold), redeem}, nil
	})
	if err != nil {
		return nil, err
	}
	return res[len(res)-1].Transaction, nil
}

func reversalKey(id string) string { return "reversal:" + id }

// Reverse voids the effect of an EARNING, ADJUSTMENT or REDEEM row.
func (s *Service) Reverse(ctx context.Context, tenantID, transactionID, reason string) (*PointsTransaction, error) {
	target, err := s.Get(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	switch target.Type {
	case TypeEarning, TypeAdjustment, TypeRedeem:
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("%s transactions cannot be reversed", target.Type), nil)
	}

	res, err := s.appendChecked(ctx, tenantID, target.MembershipID, func(rows []*PointsTransaction, _ Balance) ([]*PointsTransaction, error) {
		return []*PointsTransaction{{
			TenantID:                tenantID,
			MembershipID:            target.MembershipID,
			Type:                    TypeReversal,
			IdempotencyKey:          reversalKey(target.ID),
			CorrelationID:           target.CorrelationID,
			SourceEventID:           target.SourceEventID,
			ReversalOfTransactionID: target.ID,
			ProgramID:               target.ProgramID,
			RewardRuleID:            target.RewardRuleID,
			Metadata:                jsonMeta(map[string]any{"reason": reason}),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res[0].Transaction, nil
}

// VerifyChain recomputes every hash of the membership chain.
func (s *Service) VerifyChain(ctx context.Context, tenantID, membershipID string) (bool, error) {
	rows, err := s.store.ListByMembership(ctx, tenantID, membershipID)
	if err != nil {
		return false, err
	}

	prev := genesisHash
	for _, r := range rows {
		if r.PreviousHash != prev || r.Hash != r.GenerateHash() {
			logFields(ctx, zap.String("membership_id", membershipID)).Warn("ledger chain broken", zap.String("transaction_id", r.ID))
			return false, nil
		}
		prev = r.Hash
	}
	return true, nil
}

func insufficient(available, need int64) error {
	return errutil.UnprocessableEntity("insufficient points", nil, errutil.WithDetails(errutil.Detail{
		Field:   "points",
		Message: fmt.Sprintf("need=%d available=%d", need, available),
	}))
}

func jsonMeta(m map[string]any) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
