package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLocker serializes across API instances. Each key is a redislock lease of ttl,
// retried with linear backoff until ctx is done.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	locks := make([]*redislock.Lock, 0, len(keys))

	releaseAll := func() {
		// Release must not depend on the request context, it may already be cancelled
		bg := context.Background()
		for i := len(locks) - 1; i >= 0; i-- {
			if err := locks[i].Release(bg); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.Warn("failed to release redis lock", zap.String("key", locks[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		lock, err := r.client.Obtain(ctx, "ledger:lock:"+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("could not obtain lock %s: %w", key, err)
			}
			return nil, fmt.Errorf("error obtaining lock %s: %w", key, err)
		}
		locks = append(locks, lock)
	}

	return releaseAll, nil
}
