package redis

import (
	"context"
	"fmt"
	"time"

	"premium-entitlement/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// RateLimiter counts lifecycle actions in fixed windows aligned to the clock.
// Each window gets its own key, so a counter whose expiry was never set only
// wastes memory and never blocks the next window.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow reports whether one more action fits under limit for key in the
// current window. A limit of zero or less disables the check.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucket := windowKey(key, r.now(), window)
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, window); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, at time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, at.UnixNano()/int64(window))
}

func UserActionKey(userID, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", userID, action)
}
