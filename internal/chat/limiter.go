package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter throttles chat messages per user. The key is the user id,
// not the thread, so opening more threads does not raise the limit.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSeen  map[string]time.Time
	lastSweep time.Time
	limit     rate.Limit
	burst     int
	now       func() time.Time
}

// NewRateLimiter allows perMinute messages per user with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether userID may send another message now.
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictIdle(now)

	limiter, ok := r.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[userID] = limiter
	}
	r.lastSeen[userID] = now
	return limiter.AllowN(now, 1)
}

// evictIdle drops limiters unused for limiterIdleTTL. Caller holds mu.
func (r *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(r.lastSweep) < limiterIdleTTL {
		return
	}
	r.lastSweep = now
	for key, seen := range r.lastSeen {
		if now.Sub(seen) >= limiterIdleTTL {
			delete(r.lastSeen, key)
			delete(r.limiters, key)
		}
	}
}
