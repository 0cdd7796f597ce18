package redis

import (
	"context"
	"testing"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{AppName: "loyalty"}
	cfg.Redis.Addr = mr.Addr()

	lc := fxtest.NewLifecycle(t)
	rdb, err := New(lc, cfg)
	require.NoError(t, err)

	lc.RequireStart()
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	lc.RequireStop()
}

func TestWaitReadyGivesUp(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	err := waitReady(context.Background(), rdb, 2, time.Millisecond, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
}
