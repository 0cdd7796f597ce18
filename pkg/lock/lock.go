package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisLocker),
)

var ErrNotAcquired = errors.New("lock_not_acquired")

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serializes work per membership.
type Locker interface {
	Acquire(ctx context.Context, tenantID, membershipID string) (Unlock, error)
}

type Unlock func(ctx context.Context) error

type RedisLocker struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	retry time.Duration
}

func NewRedisLocker(rdb *redis.Client, cfg *config.Config) Locker {
	ttl := cfg.Loyalty.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, tenantID, membershipID string) (Unlock, error) {
	key := rediskey.BuildMembershipLockKey(tenantID, membershipID)
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
					zap.L().Warn("failed to release membership lock", zap.String("key", key), zap.Error(err))
					return err
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
