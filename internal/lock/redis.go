package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL        = 10 * time.Second
	lockRetryEvery = 50 * time.Millisecond
	lockRetryLimit = 40
)

// RedisManager is the distributed Manager for multi-instance deployments.
// Each pool gets one redislock key; acquisition order is the same global
// ascending order as the in-process manager.
type RedisManager struct {
	locker *redislock.Client
}

// NewRedisManager creates a new RedisManager instance backed by the given
// redis client.
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{
		locker: redislock.New(client),
	}
}

// LockPools obtains a redislock per pool in ascending id order. If any
// acquisition fails, everything already held is released before returning.
func (m *RedisManager) LockPools(ctx context.Context, poolIDs ...uuid.UUID) (func(), error) {
	sorted := SortPoolIDs(poolIDs)

	held := make([]*redislock.Lock, 0, len(sorted))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Best effort: the TTL reclaims the lock if release fails
			_ = held[i].Release(context.WithoutCancel(ctx))
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockRetryEvery), lockRetryLimit),
	}

	for _, id := range sorted {
		lock, err := m.locker.Obtain(ctx, "pool-lock:"+id.String(), lockTTL, opts)
		if err != nil {
			releaseHeld()
			return nil, fmt.Errorf("failed to obtain lock for pool %s: %w", id, err)
		}
		held = append(held, lock)
	}

	return releaseHeld, nil
}
