package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// unlockLua deletes a lock key only when its value matches the caller's
// token, so one holder can never release another holder's lock.
var unlockLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SETNX plus a conditional
// unlock script. Its main job here is guaranteeing a single live trader
// instance per wallet.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// Acquire takes the lock for key, or returns domain.ErrLockHeld if another
// party holds it. A ttl of zero means the lock never expires on its own.
// The returned release func is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true

		// Fresh context so the lock clears even when the caller's context
		// is already cancelled during shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockLua.Run(rctx, lm.rdb, []string{name}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
