package client

import (
	"context"

	"smallbiznis-loyalty/pkg/middleware"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// NewGRPCConn dials addr without transport security. Callers own the conn.
func NewGRPCConn(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(addr, opts...)
}

// WithTenant stamps every outgoing call with the x-tenant-id metadata the
// ledger server checks request bodies against.
func WithTenant(tenantID string) grpc.DialOption {
	return grpc.WithChainUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, middleware.MetadataTenantID, tenantID)
		return invoker(ctx, method, req, reply, cc, opts...)
	})
}

func NewLedgerClient(conn *grpc.ClientConn) ledgerv1.LedgerServiceClient {
	return ledgerv1.NewLedgerServiceClient(conn)
}
