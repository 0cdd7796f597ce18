package ledger

import (
	"context"
	"fmt"

	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/minio/minio-go/v7"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		db.AsModel(&PointsTransaction{}),
		NewService,
		NewServer,
		httpapi.AsRoute(NewHandler),
	),
)

// ObjectStorage binds a configured MinIO client as the statement export target.
var ObjectStorage = fx.Module("ledger.objects",
	fx.Provide(func(c *minio.Client) ObjectStore { return c }),
)

// GRPC registers the ledgerv1 and health services on the shared grpc server.
var GRPC = fx.Module("ledger.grpc",
	fx.Invoke(registerServiceServer),
)

var Gateway = fx.Module("ledger.gateway",
	fx.Invoke(registerServiceHandlerServer),
)

func registerServiceServer(server *grpc.Server, s *Server) {
	ledgerv1.RegisterLedgerServiceServer(server, s)
	grpc_health_v1.RegisterHealthServer(server, s)
}

// registerServiceHandlerServer serves ledgerv1 over REST by calling the
// in-process server directly, without a loopback grpc connection.
func registerServiceHandlerServer(mux *runtime.ServeMux, s *Server) error {
	if err := ledgerv1.RegisterLedgerServiceHandlerServer(context.Background(), mux, s); err != nil {
		return fmt.Errorf("ledger: register gateway: %w", err)
	}
	zap.L().Debug("ledger gateway registered")
	return nil
}
