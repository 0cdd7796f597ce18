package redis

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const connectAttempts = 5

// New shares one client between asynq, the membership lock and the program
// code sequence. Startup fails when redis never answers a PING.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
		ClientName:  c.AppName,
	})

	if err := waitReady(context.Background(), rdb, connectAttempts, time.Second, zapLog); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	zapLog.Info("[Redis] Connected to Redis")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}

// waitReady pings with a doubling delay between attempts.
func waitReady(ctx context.Context, rdb *redis.Client, attempts int, delay time.Duration, log *zap.Logger) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		log.Warn("[Redis] Redis not ready, retrying", zap.Int("retry", i+1), zap.Duration("in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("redis %s not reachable after %d attempts: %w", rdb.Options().Addr, attempts, err)
}
