// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token-bucket limiter used when no
// Redis is configured: one bucket per store for administration routes and
// per client IP otherwise. Checkout replays flagged by IdempotencyValidator
// are never limited. ratelimit_redis.go holds the shared variant for
// multi-replica deployments.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the bucket a request is charged to.
type keyFunc func(*gin.Context) string

// KeyByStoreOrIP charges store administration requests to the store in the
// path ("store:<id>") and everything else to the client ("ip:<addr>").
func KeyByStoreOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := StoreIDFrom(c); s != "" {
			return "store:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket. Buckets idle for longer than idleTTL
// are swept at most once per sweepEvery, on the request path. Safe for
// concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu         sync.Mutex
	buckets    map[string]*bucket
	idleTTL    time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewRateLimiter allows rps tokens per second with the given burst per key.
// burst <= 0 is coerced to 1; rps == 0 admits only the initial burst.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		keyFn:      keyFn,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
		idleTTL:    10 * time.Minute,
		sweepEvery: time.Minute,
	}
}

// allow takes one token from key's bucket.
func (rl *RateLimiter) allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// sweep before the lookup so a stale bucket for key starts over full
	if now.Sub(rl.lastSweep) >= rl.sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay of a completed checkout.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the Gin middleware. Over-budget requests get 429 with a
// Retry-After of one token interval.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		key := rl.keyFn(c)
		if !rl.allow(key) {
			rejectRateLimited(c, key, rl.retryAfter())
			return
		}
		c.Next()
	}
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.rps <= 0 || rl.rps == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(rl.rps))))
}

// rejectRateLimited answers 429 in the shared error envelope:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 1
//	{"request_id": "<uuid>", "code": "too_many_requests", "message": "rate limit exceeded"}
func rejectRateLimited(c *gin.Context, key string, retryAfter int) {
	httpRateLimited.WithLabelValues(rateLimitKind(key)).Inc()
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
}
