package ledger

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	health "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/timestamppb"
	"gorm.io/gorm"
)

// Server exposes the ledger over ledgerv1. CREDIT and DEBIT entries map to
// positive and negative ADJUSTMENT rows keyed by the caller's reference id.
type Server struct {
	ledgerv1.UnimplementedLedgerServiceServer
	health.UnimplementedHealthServer

	db  *gorm.DB
	svc *Service
}

func NewServer(db *gorm.DB, svc *Service) *Server {
	return &Server{db: db, svc: svc}
}

func toProto(t *PointsTransaction) *ledgerv1.LedgerEntry {
	entryType := ledgerv1.EntryType_CREDIT
	amount := t.PointsDelta
	if amount < 0 {
		entryType = ledgerv1.EntryType_DEBIT
		amount = -amount
	}
	return &ledgerv1.LedgerEntry{
		Id:            t.ID,
		TenantId:      t.TenantID,
		MemberId:      t.MembershipID,
		Type:          entryType,
		Amount:        amount,
		TransactionId: t.IdempotencyKey,
		ReferenceId:   t.SourceEventID,
		Description:   string(t.Type),
	}
}

func (s *Server) GetBalance(ctx context.Context, req *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error) {
	bal, err := s.svc.Balance(ctx, req.GetTenantId(), req.GetMemberId())
	if err != nil {
		return nil, errutil.ToGRPCError(err)
	}
	resp := &ledgerv1.GetBalanceResponse{Balance: bal.Available}
	if !bal.LastUpdatedAt.IsZero() {
		resp.LastUpdatedAt = timestamppb.New(bal.LastUpdatedAt)
	}
	return resp, nil
}

func (s *Server) AddEntry(ctx context.Context, req *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error) {
	if req.GetAmount() <= 0 {
		return nil, errutil.ToGRPCError(errutil.BadRequest("amount must be > 0", nil))
	}
	if req.GetReferenceId() == "" {
		return nil, errutil.ToGRPCError(errutil.BadRequest("reference_id is required", nil))
	}

	points := req.GetAmount()
	switch req.GetType() {
	case ledgerv1.EntryType_CREDIT:
	case ledgerv1.EntryType_DEBIT:
		points = -points
	default:
		return nil, errutil.ToGRPCError(errutil.BadRequest("unsupported entry type", nil))
	}

	meta := make(map[string]string, len(req.GetMetadata())+1)
	for k, v := range req.GetMetadata() {
		meta[k] = fmt.Sprint(v)
	}
	meta["reference_id"] = req.GetReferenceId()

	t, err := s.svc.Adjust(ctx, AdjustRequest{
		TenantID:       req.GetTenantId(),
		MembershipID:   req.GetMemberId(),
		Points:         points,
		Reason:         req.GetDescription(),
		IdempotencyKey: "entry:" + req.GetReferenceId(),
		Metadata:       meta,
	})
	if err != nil {
		return nil, errutil.ToGRPCError(err)
	}
	return toProto(t), nil
}

func (s *Server) ListEntries(ctx context.Context, req *ledgerv1.ListEntriesRequest) (*ledgerv1.ListEntriesResponse, error) {
	rows, err := s.svc.store.ListByMembership(ctx, req.GetTenantId(), req.GetMemberId())
	if err != nil {
		return nil, errutil.ToGRPCError(err)
	}
	data := make([]*ledgerv1.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		data = append(data, toProto(r))
	}
	return &ledgerv1.ListEntriesResponse{Data: data}, nil
}

func (s *Server) GetEntry(ctx context.Context, req *ledgerv1.GetEntryRequest) (*ledgerv1.LedgerEntry, error) {
	var t PointsTransaction
	if err := s.db.WithContext(ctx).Where("id = ?", req.GetId()).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.ToGRPCError(errutil.NotFound("entry not found", nil))
		}
		return nil, errutil.ToGRPCError(err)
	}
	return toProto(&t), nil
}

func (s *Server) VerifyChain(ctx context.Context, req *ledgerv1.VerifyChainRequest) (*ledgerv1.VerifyChainResponse, error) {
	ok, err := s.svc.VerifyChain(ctx, req.GetTenantId(), req.GetMemberId())
	if err != nil {
		return nil, errutil.ToGRPCError(err)
	}
	return &ledgerv1.VerifyChainResponse{Valid: ok}, nil
}
