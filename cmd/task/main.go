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
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/otelcol"
	"smallbiznis-loyalty/pkg/redis"
	"smallbiznis-loyalty/pkg/task"
	"smallbiznis-loyalty/pkg/workflow"
	"smallbiznis-loyalty/services/expiry"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/outbox"
	"smallbiznis-loyalty/services/redemption"
)

// task runs the background side: the daily expiry sweep, the outbox relay to
// Kafka and the redemption workflow worker.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		db.Migrate,
		redis.Module,
		clock.Module,
		gen.Module,
		task.Client,
		task.Server,
		ledger.Module,
		expiry.Module,
		expiry.SchedulerModule,
		expiry.TaskModule,
		outbox.Module,
		workflow.ProvideClient,
		workflow.Worker,
		redemption.WorkerModule,
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
