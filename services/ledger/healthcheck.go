package ledger

import (
	"context"
	"time"

	"github.com/gogo/status"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// watchInterval is how often Watch re-checks the database.
var watchInterval = 5 * time.Second

func (s *Server) servingStatus(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	if service != "" && service != ledgerv1.LedgerService_ServiceDesc.ServiceName {
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, status.Errorf(codes.NotFound, "unknown service %q", service)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil
	}
	return grpc_health_v1.HealthCheckResponse_SERVING, nil
}

func (s *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	st, err := s.servingStatus(ctx, req.GetService())
	if err != nil {
		return nil, err
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch sends the current status, then one message per change.
func (s *Server) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	ctx := srv.Context()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_UNKNOWN
	for {
		st, err := s.servingStatus(ctx, req.GetService())
		if err != nil {
			st = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
		}
		if st != last {
			if err := srv.Send(&grpc_health_v1.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
			last = st
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
