package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter is implemented by both rate limiters so the router can pick one.
type Limiter interface {
	Handler() gin.HandlerFunc
}

// RedisRateLimiter enforces a fixed-window request budget per key, shared by
// every replica through Redis (INCR plus PEXPIRE on the window's first hit).
//
// When Redis is unreachable the request is let through and a warning is
// logged: throttling is cost protection, not authorization.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	limit  int64
	window time.Duration
	keyFn  keyFunc
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter allows limit requests per window and key. limit <= 0 is
// coerced to 1 and window <= 0 to one second.
func NewRedisRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration, keyFn keyFunc) *RedisRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisRateLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		keyFn:  keyFn,
		prefix: "menu:ratelimit:",
		now:    time.Now,
	}
}

// NewLimiter builds the Redis limiter when rdb is set and the in-memory token
// bucket otherwise. rps and burst translate to a one-second window holding
// max(burst, ceil(rps)) requests.
func NewLimiter(rdb redis.UniversalClient, rps float64, burst int) Limiter {
	if rdb == nil {
		return NewRateLimiter(rps, burst, KeyByStoreOrIP())
	}
	limit := int(math.Ceil(rps))
	if burst > limit {
		limit = burst
	}
	return NewRedisRateLimiter(rdb, limit, time.Second, KeyByStoreOrIP())
}

// Handler returns the Gin middleware. Replays flagged by IdempotencyValidator
// skip the budget.
func (rl *RedisRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		key := rl.keyFn(c)
		count, ttl, err := rl.hit(c.Request.Context(), key)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("bucket", rateLimitKind(key)).Msg("rate limit: redis unavailable, allowing request")
			c.Next()
			return
		}
		if count > rl.limit {
			rejectRateLimited(c, key, retryAfterSeconds(ttl))
			return
		}
		c.Next()
	}
}

// hit counts one request in the current window and returns the count and the
// time left in the window. Keys are per window, so the expiry only has to
// outlive it.
func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	now := rl.now().UnixNano()
	slot := now / int64(rl.window)
	redisKey := rl.prefix + key + ":" + strconv.FormatInt(slot, 10)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	left := time.Duration((slot+1)*int64(rl.window) - now)
	return incr.Val(), left, nil
}

func retryAfterSeconds(left time.Duration) int {
	n := int(math.Ceil(left.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}
