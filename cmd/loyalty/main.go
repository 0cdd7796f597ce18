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
	"smallbiznis-loyalty/pkg/featureflags"
	"smallbiznis-loyalty/pkg/gen"
	"smallbiznis-loyalty/pkg/hashistack/secretmanager"
	"smallbiznis-loyalty/pkg/hashistack/servicediscover"
	"smallbiznis-loyalty/pkg/health"
	"smallbiznis-loyalty/pkg/httpapi"
	"smallbiznis-loyalty/pkg/lock"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/otelcol"
	"smallbiznis-loyalty/pkg/profiling"
	"smallbiznis-loyalty/pkg/redis"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/pkg/server"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/loyalty"
	"smallbiznis-loyalty/services/program"
	"smallbiznis-loyalty/services/redemption"
)

// loyalty serves the event, program, rule and redemption APIs and works the
// event processing queue.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		db.Migrate,
		redis.Module,
		lock.Module,
		sequence.Module,
		clock.Module,
		gen.Module,
		featureflags.Module,
		task.Client,
		task.Server,
		workflow.ProvideClient,
		catalog.Module,
		event.Module,
		program.Module,
		ledger.Module,
		loyalty.Module,
		loyalty.TaskModule,
		redemption.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		opts = append(opts, secretmanager.Module)
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
