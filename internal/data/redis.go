package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"healthpay-gateway/internal/conf"
)

// NewRedisClient creates a Redis client for rate limit counters.
// An unreachable Redis does not abort startup; the rate limiter fails
// open until the store comes back.
func NewRedisClient(c *conf.Data, logger log.Logger) *redis.Client {
	l := log.NewHelper(logger)

	rdb := redis.NewClient(&redis.Options{
		Network:      c.Redis.Network,
		Addr:         c.Redis.Addr,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		l.Warnf("redis unreachable at %s, rate limiting will fail open: %v", c.Redis.Addr, err)
		return rdb
	}

	l.Infof("connected to redis at %s", c.Redis.Addr)
	return rdb
}
