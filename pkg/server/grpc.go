package server

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/middleware"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		WithOption,
		NewGRPCServer,
		NewServeMux,
	),
	fx.Invoke(
		StartGRPCServer,
	),
)

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", ListenAddr(cfg.Grpc.Addr))
}

// InterceptorLogger adapts zap to the go-grpc-middleware logging interface.
func InterceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			zf = append(zf, zap.Any(key, fields[i+1]))
		}
		if tenantID, ok := middleware.TenantFromContext(ctx); ok {
			zf = append(zf, zap.String("tenant_id", tenantID))
		}

		log := l.WithOptions(zap.AddCallerSkip(1))
		switch lvl {
		case logging.LevelDebug:
			log.Debug(msg, zf...)
		case logging.LevelInfo:
			log.Info(msg, zf...)
		case logging.LevelWarn:
			log.Warn(msg, zf...)
		case logging.LevelError:
			log.Error(msg, zf...)
		default:
			log.Error(fmt.Sprintf("unknown level %v: %s", lvl, msg), zf...)
		}
	})
}

func recoverPanic(p any) error {
	zap.L().Error("recovered from grpc handler panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
	return status.Error(codes.Internal, "internal error")
}

func WithOption(lc fx.Lifecycle, cfg *config.Config, tp trace.TracerProvider, mp metric.MeterProvider) ([]grpc.ServerOption, error) {
	logger := InterceptorLogger(zap.L().Named("grpc"))
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}
	recoveryOpt := recovery.WithRecoveryHandler(recoverPanic)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recoveryOpt),
			middleware.TenantInterceptor(),
			logging.UnaryServerInterceptor(logger, logOpts...),
			validator.UnaryServerInterceptor(validator.WithFailFast()),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoveryOpt),
			logging.StreamServerInterceptor(logger, logOpts...),
			validator.StreamServerInterceptor(validator.WithFailFast()),
		),
		grpc.StatsHandler(
			otelgrpc.NewServerHandler(
				otelgrpc.WithTracerProvider(tp),
				otelgrpc.WithMeterProvider(mp),
			),
		),
	}

	if cfg.TLS.Enable {
		certs, err := NewCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		watchOnLifecycle(lc, certs)
		opts = append(opts, grpc.Creds(credentials.NewTLS(certs.TLSConfig())))
	}
	return opts, nil
}

func NewServeMux() *runtime.ServeMux {
	return runtime.NewServeMux(runtime.WithMetadata(TenantIDAnnotator))
}

func NewGRPCServer(cfg *config.Config, opts []grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	if cfg.AppEnv != "production" {
		reflection.Register(srv)
	}
	return srv
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *grpc.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
				if err := srv.Serve(lis); err != nil {
					zap.L().Fatal("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Stopping gRPC server")
			srv.GracefulStop()
			return nil
		},
	})
}
