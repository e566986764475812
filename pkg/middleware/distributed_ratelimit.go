package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

// DistributedRateLimiter implements fixed-window rate limiting in Redis so
// limits are shared across API instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts a request against key and reports whether it is within the
// window's limit. The window starts at the key's first request.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, err error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis error: %w", err)
	}
	// A key without a TTL is a fresh window
	if ttl.Val() < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	limit := int64(rl.config.RequestsPerWindow + rl.config.BurstSize)
	count := incr.Val()
	remaining = int(limit - count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// DistributedRateLimitMiddleware provides HTTP rate limiting with Redis
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	accountLimiter   *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	logger           *observability.Logger

	// local limits requests while Redis is unreachable. Nil lets them through.
	local *RateLimitMiddleware
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate limit middleware
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, logger *observability.Logger) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		accountLimiter:   NewDistributedRateLimiter(redisClient, PerAccountRateLimitConfig(), "ratelimit:account"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		logger:           logger,
	}
}

// WithAnonymousLimit replaces the limit applied to unauthenticated clients
func (m *DistributedRateLimitMiddleware) WithAnonymousLimit(config *RateLimitConfig) *DistributedRateLimitMiddleware {
	m.anonymousLimiter = NewDistributedRateLimiter(m.redis, config, "ratelimit:anon")
	return m
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key, limiter := rateLimitKey(r), m.anonymousLimiter
		if GetAuthContext(r) != nil {
			limiter = m.accountLimiter
		}

		allowed, remaining, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.local != nil {
				m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, limiting locally")
				m.local.Handler(next).ServeHTTP(w, r)
				return
			}
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			retryAfter := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			rateLimitExceeded(w, limiter.config, retryAfter)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		next.ServeHTTP(w, r)
	})
}

// WithLocalFallback limits requests with per-instance buckets while Redis
// is unreachable instead of letting every request through
func (m *DistributedRateLimitMiddleware) WithLocalFallback(local *RateLimitMiddleware) *DistributedRateLimitMiddleware {
	m.local = local
	return m
}

// HealthCheck verifies Redis connectivity for rate limiting
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}
