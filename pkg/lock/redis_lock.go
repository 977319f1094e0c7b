// Package lock provides a best-effort distributed mutex on top of Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock held by another owner")

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Handle identifies an acquired lock.
type Handle struct {
	Key   string
	Token string
}

// RedisLocker issues SET NX PX locks.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker builds a locker whose keys are prefixed with prefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes name for ttl or returns ErrNotAcquired.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redis locker not configured")
	}
	handle := &Handle{Key: l.prefix + name, Token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, handle.Key, handle.Token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", handle.Key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return handle, nil
}

// Release frees h if it is still ours. Releasing an expired lock is a no-op.
func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if l == nil || l.client == nil || h == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{h.Key}, h.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", h.Key, err)
	}
	return nil
}

