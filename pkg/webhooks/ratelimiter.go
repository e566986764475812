package webhooks

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter holds a token bucket per webhook
type RateLimiter struct {
	limiters map[int64]*rate.Limiter
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond deliveries per webhook with the given burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(webhookID int64) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	l, ok := rl.limiters[webhookID]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[webhookID] = l
	}
	return l
}

// Allow reports whether a delivery to the webhook may be sent now
func (rl *RateLimiter) Allow(webhookID int64) bool {
	return rl.limiter(webhookID).Allow()
}

// Reset forgets a webhook's bucket
func (rl *RateLimiter) Reset(webhookID int64) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.limiters, webhookID)
}
