package flowstate

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// UnlockFunc releases a held session lock.
type UnlockFunc func(ctx context.Context) error

// Locker serializes writers of one session's flow state across server
// instances, using Redis SET NX PX. Each lock carries a unique value
// so release only deletes a lock the caller still holds.
type Locker struct {
	client *backend.Client
	prefix string
	retry  time.Duration
}

// NewLocker creates a locker under the given key namespace. Lock keys
// live in a "lock:" segment below the prefix, next to the state keys.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
		retry:  50 * time.Millisecond,
	}
}

// release is a check-and-delete script: the lock is removed only when
// its value still matches, so an expired-and-reacquired lock is never
// deleted by the previous holder.
const release = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Lock blocks until the session lock is acquired or ctx is done. The
// ttl bounds how long a crashed holder can wedge the session.
func (l *Locker) Lock(ctx context.Context, sessionID string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + sessionID
	val := fmt.Sprintf("%d", time.Now().UnixNano())

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, release, []string{lockKey}, val).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
