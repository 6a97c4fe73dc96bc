// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"fmt"
	"time"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ adapter.Locker = (*RedisLocker)(nil)

// RedisLocker is a single-instance SET NX lock with token checked release.
type RedisLocker struct {
	cli     *redis.Client
	retries int
	backoff time.Duration
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli, retries: 20, backoff: 100 * time.Millisecond}
}

// TryLock waits up to retries*backoff for the key and returns
// domain.ErrConflict wrapped when it stays held or Redis cannot be reached.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < l.retries; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: lock unavailable: %v", domain.ErrConflict, err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.backoff):
		}
	}
	return "", fmt.Errorf("%w: %s is busy", domain.ErrConflict, key)
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

func UserActionLockKey(userID, action string) string {
	return fmt.Sprintf("lock:%s:%s", userID, action)
}
