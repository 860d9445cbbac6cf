package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// ReleaseFunc gives a lease back. It only deletes the key while the lease is
// still owned by the caller.
type ReleaseFunc func(context.Context)

// Leaser hands out non-blocking Redis leases. A lease expires on its own after
// TTL when the holder never releases it.
type Leaser struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
}

// TryAcquire attempts to take the lease for key without waiting. ok is false
// when somebody else holds it.
func (l Leaser) TryAcquire(ctx context.Context, key string) (release ReleaseFunc, ok bool, err error) {
	if l.R == nil {
		return nil, false, errors.New("lock: redis client not configured")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	full := l.Prefix + key
	token := uuid.NewString()

	acquired, err := l.R.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	return func(ctx context.Context) { l.release(ctx, full, token) }, true, nil
}

func (l Leaser) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			if current, getErr := l.R.Get(ctx, key).Result(); getErr == nil && current == token {
				_ = l.R.Del(ctx, key).Err()
			}
		}
	}
}
