package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("job lock held by another worker")

// Locker gives one worker replica at a time the right to run a named job.
type Locker interface {
	WithLock(ctx context.Context, job string, fn func(ctx context.Context) error) error
}

type redisJobLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewJobLocker(client *redis.Client, prefix string, ttl time.Duration) Locker {
	if prefix == "" {
		prefix = "lock:job"
	}
	return &redisJobLocker{client: client, prefix: prefix, ttl: ttl}
}

// WithLock runs fn while holding the job key. fn's context expires with the
// lock so a stalled run cannot overlap the next holder.
func (l *redisJobLocker) WithLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	key := l.prefix + ":" + job
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", job, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisJobLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// LocalLocker runs every job unconditionally. It serves single-replica
// deployments without Redis.
type LocalLocker struct{}

func (LocalLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
