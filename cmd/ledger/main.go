package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/pkg/gen"
	"smallbiznis-loyalty/pkg/hashistack/secretmanager"
	"smallbiznis-loyalty/pkg/hashistack/servicediscover"
	"smallbiznis-loyalty/pkg/health"
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/minio"
	"smallbiznis-loyalty/pkg/otelcol"
	"smallbiznis-loyalty/pkg/profiling"
	"smallbiznis-loyalty/pkg/server"
	"smallbiznis-loyalty/services/ledger"
)

// ledger serves the points ledger over gRPC, the grpc-gateway and its own
// REST routes.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		db.Migrate,
		clock.Module,
		gen.Module,
		ledger.Module,
		ledger.GRPC,
		ledger.Gateway,
		server.ProvideGRPCServer,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		opts = append(opts, secretmanager.Module)
	}
	if _, ok := os.LookupEnv("MINIO_ENDPOINT"); ok {
		opts = append(opts, minio.Client, ledger.ObjectStorage)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
