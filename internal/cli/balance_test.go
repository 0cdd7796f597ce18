package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/errutil"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type ledgerClientMock struct {
	ledgerv1.LedgerServiceClient
	GetBalanceFn func(ctx context.Context, in *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error)
}

func (m *ledgerClientMock) GetBalance(ctx context.Context, in *ledgerv1.GetBalanceRequest, _ ...grpc.CallOption) (*ledgerv1.GetBalanceResponse, error) {
	return m.GetBalanceFn(ctx, in)
}

func TestFetchBalance(t *testing.T) {
	updated := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	mock := &ledgerClientMock{
		GetBalanceFn: func(ctx context.Context, in *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.Equal(t, "t-1", in.GetTenantId())
			assert.Equal(t, "mem-1", in.GetMemberId())
			return &ledgerv1.GetBalanceResponse{Balance: 50, LastUpdatedAt: timestamppb.New(updated)}, nil
		},
	}

	bal, err := fetchBalance(context.Background(), mock, &BalanceOptions{TenantID: "t-1", MembershipID: "mem-1", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Balance)
	require.NotNil(t, bal.LastUpdatedAt)
	assert.True(t, updated.Equal(*bal.LastUpdatedAt))
}

func TestFetchBalanceError(t *testing.T) {
	mock := &ledgerClientMock{
		GetBalanceFn: func(context.Context, *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error) {
			return nil, errors.New("unavailable")
		},
	}
	_, err := fetchBalance(context.Background(), mock, &BalanceOptions{Timeout: time.Second})
	require.Error(t, err)
}

func TestFetchBalanceMapsStatus(t *testing.T) {
	mock := &ledgerClientMock{
		GetBalanceFn: func(context.Context, *ledgerv1.GetBalanceRequest) (*ledgerv1.GetBalanceResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "tenant mismatch")
		},
	}
	_, err := fetchBalance(context.Background(), mock, &BalanceOptions{TenantID: "t-1", MembershipID: "mem-1", Timeout: time.Second})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
}

func TestBalanceCommandRequiresFlags(t *testing.T) {
	_, err := execute(t, "balance", "--tenant", "t-1")
	require.Error(t, err)
}
