package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/metrics"
	pkglog "healthpay-gateway/pkg/log"
)

// Limit class names referenced by the route table.
const (
	ClassAuth   = "auth"
	ClassAPI    = "api"
	ClassStrict = "strict"
)

// RateLimitRepo increments the request counter for a fixed window and
// returns the count after the increment.
type RateLimitRepo interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int32, error)
}

// Decision is the outcome of a rate limit check, carrying the values the
// gateway reflects in response headers.
type Decision struct {
	Allowed    bool
	Limit      int32
	Remaining  int32
	RetryAfter time.Duration
}

// RateLimiterUseCase enforces fixed-window limits per limit class.
// Store failures fail open: proxying requests matters more than
// enforcing quotas during a Redis outage.
type RateLimiterUseCase struct {
	classes map[string]*conf.LimitClass
	repo    RateLimitRepo
	metrics *metrics.Metrics
	log     *pkglog.LogHelper
}

// NewRateLimiterUseCase creates a rate limiter use case.
func NewRateLimiterUseCase(c *conf.RateLimit, repo RateLimitRepo, m *metrics.Metrics, logger log.Logger) *RateLimiterUseCase {
	return &RateLimiterUseCase{
		classes: c.Classes,
		repo:    repo,
		metrics: m,
		log:     pkglog.NewLogHelper(logger),
	}
}

// Allow checks the counter for key under the named limit class. Unknown
// classes allow the request; route validation rejects them at startup.
func (uc *RateLimiterUseCase) Allow(ctx context.Context, class, key string) Decision {
	lc, ok := uc.classes[class]
	if !ok {
		return Decision{Allowed: true}
	}

	count, err := uc.repo.IncrementWindow(ctx, "rl:"+class+":"+key, lc.Window)
	if err != nil {
		uc.metrics.RateLimitErrors.Inc()
		uc.log.RateLimit("rate limit store unavailable, allowing request",
			"class", class, "error", err)
		return Decision{Allowed: true, Limit: lc.Limit, Remaining: lc.Limit}
	}

	remaining := lc.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count > lc.Limit {
		uc.metrics.RateLimitedTotal.WithLabelValues(class).Inc()
		uc.log.RateLimit("rate limit exceeded",
			"class", class, "key", key, "count", count, "limit", lc.Limit)
		return Decision{Allowed: false, Limit: lc.Limit, RetryAfter: lc.Window}
	}
	return Decision{Allowed: true, Limit: lc.Limit, Remaining: remaining}
}
