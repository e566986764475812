package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
		BurstSize:         1,
	}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := limiter.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	ttl, err := limiter.TTL(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	// The window is fixed from the first request
	mr.FastForward(30 * time.Second)
	_, _, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("test:ip:1.2.3.4"))

	mr.FastForward(31 * time.Second)
	allowed, _, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "ip:1.2.3.4"))
	assert.False(t, mr.Exists("test:ip:1.2.3.4"))
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	_, client := newTestRedis(t)
	logger := observability.NewLogger(observability.InfoLevel, &bytes.Buffer{})
	m := NewDistributedRateLimitMiddleware(client, logger)
	m.accountLimiter.config = &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func() *httptest.ResponseRecorder {
		req := withAuth(httptest.NewRequest(http.MethodPost, "/products", nil), &auth.AuthContext{AccountID: 9})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := serve()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := serve()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestDistributedRateLimitMiddleware_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	var logs bytes.Buffer
	m := NewDistributedRateLimitMiddleware(client, observability.NewLogger(observability.InfoLevel, &logs))
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mr.Close()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, logs.String(), "rate limiter unavailable")
	assert.Error(t, m.HealthCheck(context.Background()))

	m.WithLocalFallback(NewRateLimitMiddleware().WithAnonymousLimit(PerMinuteRateLimitConfig(1)))
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/x", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Contains(t, logs.String(), "limiting locally")
}
