package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-acquired elsewhere is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a distributed lock using SET NX PX with a random token.
type RedisLocker struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
	logger  *slog.Logger
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed
// holder can block others; timeout bounds how long Lock waits.
func NewRedisLocker(rdb *redis.Client, ttl, timeout time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		ttl:     ttl,
		timeout: timeout,
		retry:   25 * time.Millisecond,
		logger:  logger,
	}
}

// Lock polls until the key is acquired, the timeout elapses or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	redisKey := "lock:" + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrLockTimeout
			}
			return nil, ctx.Err()
		}
	}

	return func() {
		// Release on a fresh context: the caller's may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", "key", key, "error", err)
		}
	}, nil
}
