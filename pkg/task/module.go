package task

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client shares the process-wide go-redis connection with asynq.
var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

func registerClient(lc fx.Lifecycle, rdb *redis.Client) (*asynq.Client, error) {
	client := asynq.NewClientFromRedisClient(rdb)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("asynq: ping: %w", err)
	}

	zap.L().Info("[Asynq] Connected to Asynq")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

var Server = fx.Module("asynq:server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(registerAsynqServer),
)

// Queues returns the queue weights served by the worker. The event queue is
// configurable so a tenant-heavy deployment can split processing out.
func Queues(cfg *config.Config) map[string]int {
	queues := map[string]int{
		"critical": 10,
		"default":  5,
		"low":      3,
	}
	if q := cfg.Loyalty.ProcessQueue; q != "" {
		if _, ok := queues[q]; !ok {
			queues[q] = 8
		}
	}
	return queues
}

func serverConfig(cfg *config.Config) asynq.Config {
	concurrency := cfg.Task.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	shutdown := cfg.Task.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	return asynq.Config{
		Concurrency:     concurrency,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		Queues:          Queues(cfg),
		ShutdownTimeout: shutdown,
		Logger:          zap.L().Named("asynq").Sugar(),
		ErrorHandler:    asynq.ErrorHandlerFunc(handleError),
	}
}

// handleError only reports at error level once the task has used its last
// retry.
func handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	id, _ := asynq.GetTaskID(ctx)

	fields := []zap.Field{
		zap.String("task_type", task.Type()),
		zap.String("task_id", id),
		zap.Int("retried", retried),
		zap.Error(err),
	}
	if retried >= maxRetry {
		zap.L().Error("asynq task permanently failed", fields...)
		return
	}
	zap.L().Warn("asynq task failed, will retry", fields...)
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, rdb *redis.Client, mux *asynq.ServeMux) {
	server := asynq.NewServerFromRedisClient(rdb, serverConfig(cfg))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("asynq: start server: %w", err)
			}
			zap.L().Info("[Asynq] Asynq server started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
