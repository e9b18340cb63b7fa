package utils

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/sirupsen/logrus"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// ObtainLocks takes every key with redislock and returns a release func.
// Keys are sorted first so two callers never wait on each other in opposite order.
// Without redis it returns a no-op release; database row locks stay authoritative.
func ObtainLocks(ctx context.Context, keys []string, ttl time.Duration) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil || len(keys) == 0 {
		return func() {}, nil
	}
	keys = UniqueSlice(keys)
	sort.Strings(keys)

	opts := &redislock.Options{RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50)}
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.GetLogger().WithFields(logrus.Fields{
					"field": "ObtainLocks",
					"key":   held[i].Key(),
				}).Warn("failed to release redis lock: " + err.Error())
			}
		}
	}
	for _, key := range keys {
		lock, err := locker.Obtain(ctx, key, ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, NewConflictError("resource busy, retry: %s", key)
			}
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}
