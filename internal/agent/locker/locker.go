// Package locker provides per-conversation mutual exclusion backed by Redis,
// shared across all worker processes.
package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "processing:"

// releaseScript deletes the lock only when the caller still owns it, so a
// slow cycle cannot release a lock re-acquired after TTL expiry.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held per-conversation lock.
type Lock struct {
	key   string
	token string
	rdb   redis.UniversalClient
}

// Locker acquires TTL-bounded conversation locks.
type Locker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New creates a Locker. The TTL is the safety net against a crashed worker
// holding a lock forever.
func New(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// TryAcquire attempts to take the conversation lock without blocking.
// It returns (nil, false, nil) when another cycle holds the lock; callers
// must skip the cycle, not queue behind it.
func (l *Locker) TryAcquire(ctx context.Context, conversationID uuid.UUID) (*Lock, bool, error) {
	key := keyPrefix + conversationID.String()
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{key: key, token: token, rdb: l.rdb}, true, nil
}

// Release frees the lock if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release conversation lock: %w", err)
	}
	return nil
}
