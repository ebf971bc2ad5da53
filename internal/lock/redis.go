package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/retry"
)

// unlockLua deletes the lock key only if it still holds the caller's token,
// so a holder whose TTL expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker is a Locker shared by every instance of the service, built on
// SET NX with a TTL and a Lua compare-and-delete unlock.
type RedisLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	pollBase time.Duration
	pollMax  time.Duration
	unlockSc *redis.Script
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block others.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		ttl:      ttl,
		pollBase: 10 * time.Millisecond,
		pollMax:  250 * time.Millisecond,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:user:" + key
}

// TryLock makes a single acquisition attempt. It returns ErrLockHeld if the
// lock belongs to someone else.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Background context: the caller's may already be cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}, nil
}

// Lock polls TryLock with exponential backoff until it succeeds or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	for attempt := 0; ; attempt++ {
		unlock, err := l.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(retry.Backoff(attempt, l.pollBase, l.pollMax))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock: wait for %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface checks.
var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)
