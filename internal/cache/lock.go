package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when the lock stays held by someone else
// until the wait deadline.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes critical sections across API instances.
type Locker interface {
	// WithLock runs fn while holding the named lock.
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// unlockScript deletes the key only when it still holds our token, so a lock
// that expired and was taken over is not released by the previous holder.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	wait      time.Duration
	retryStep time.Duration
}

// NewRedisLocker builds a locker whose locks expire after ttl and whose callers
// wait at most wait to acquire them.
func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:       rdb,
		prefix:    "lock:",
		ttl:       ttl,
		wait:      wait,
		retryStep: 25 * time.Millisecond,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := l.prefix + name
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", name, ErrLockNotAcquired)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryStep):
		}
	}

	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}

// LocalLocker is an in-process Locker for tests and single-instance runs.
type LocalLocker struct {
	locks chan struct{}
}

// NewLocalLocker returns a Locker backed by one process-wide mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(chan struct{}, 1)}
}

func (l *LocalLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	select {
	case l.locks <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.locks }()
	return fn(ctx)
}
