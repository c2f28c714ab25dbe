package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts hits per fixed window. Every window has its own key,
// so a lost EXPIRE leaks one stale counter and never blocks a caller.
type RateLimiter struct {
	client Counter
	now    func() time.Time
}

func NewRateLimiter(client Counter) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	bucket := fmt.Sprintf("%s:%d", key, r.now().UnixNano()/int64(window))

	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// two windows, to tolerate clock skew between instances
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// UserRouteKey scopes a limit to one caller and one endpoint.
func UserRouteKey(userID, route string) string {
	return "ratelimit:api:" + userID + ":" + route
}
