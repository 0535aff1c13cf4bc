package data

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimitRepo implements fixed-window counters on Redis.
type RateLimitRepo struct {
	data *Data
	log  *log.Helper
}

// NewRateLimitRepo creates a rate limit repository.
func NewRateLimitRepo(data *Data, logger log.Logger) *RateLimitRepo {
	return &RateLimitRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// IncrementWindow increments the counter for key and returns the count
// after the increment. The first increment of a window sets the TTL, so
// the window starts when the first request arrives and the key expires
// on its own.
func (r *RateLimitRepo) IncrementWindow(ctx context.Context, key string, window time.Duration) (int32, error) {
	count, err := r.data.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := r.data.rdb.Expire(ctx, key, window).Err(); err != nil {
			r.log.Warnf("failed to set ttl on rate limit key %s: %v", key, err)
		}
	}

	if count > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int32(count), nil
}
