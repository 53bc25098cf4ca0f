package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterEngine(t *testing.T, limit int, window time.Duration) (*gin.Engine, *miniredis.Miniredis, *RedisRateLimiter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRedisRateLimiter(rdb, limit, window, KeyByStoreOrIP())
	// pin the clock to the start of a window
	fixed := time.Unix(1_717_236_000, 0)
	rl.now = func() time.Time { return fixed }

	r := gin.New()
	r.POST("/stores/:storeId/orders",
		StoreScope(),
		IdempotencyValidator(IdempotencyOptions{}, func(_ context.Context, _, key string, _ time.Time) (bool, error) {
			return key == "replayed", nil
		}),
		rl.Handler(),
		func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r, mr, rl
}

func postOrder(r http.Handler, store, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/stores/"+store+"/orders", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRedisRateLimiter_WindowBudgetPerStore(t *testing.T) {
	r, mr, _ := newRedisLimiterEngine(t, 2, 10*time.Second)
	base := testutil.ToFloat64(httpRateLimited.WithLabelValues("store"))

	for i := 0; i < 2; i++ {
		if w := postOrder(r, "s-1", ""); w.Code != http.StatusCreated {
			t.Fatalf("request %d -> %d", i, w.Code)
		}
	}
	w := postOrder(r, "s-1", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request -> %d; want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("Retry-After = %q; want 10", got)
	}
	if got := testutil.ToFloat64(httpRateLimited.WithLabelValues("store")); got != base+1 {
		t.Fatalf("rate limited counter = %v; want %v", got, base+1)
	}

	// another store has its own budget
	if w := postOrder(r, "s-2", ""); w.Code != http.StatusCreated {
		t.Fatalf("other store -> %d", w.Code)
	}

	// the window key expires with the window
	keys := mr.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected one key per store, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestRedisRateLimiter_ReplayBypass(t *testing.T) {
	r, _, _ := newRedisLimiterEngine(t, 1, time.Minute)

	if w := postOrder(r, "s-1", "first"); w.Code != http.StatusCreated {
		t.Fatalf("first -> %d", w.Code)
	}
	if w := postOrder(r, "s-1", "replayed"); w.Code != http.StatusCreated {
		t.Fatalf("replay must bypass the budget, got %d", w.Code)
	}
	if w := postOrder(r, "s-1", "second"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh request over budget -> %d", w.Code)
	}
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	r, mr, _ := newRedisLimiterEngine(t, 1, time.Minute)
	mr.Close()

	for i := 0; i < 3; i++ {
		if w := postOrder(r, "s-1", ""); w.Code != http.StatusCreated {
			t.Fatalf("request %d with redis down -> %d", i, w.Code)
		}
	}
}

func TestRedisRateLimiter_NextWindowResets(t *testing.T) {
	r, _, rl := newRedisLimiterEngine(t, 1, time.Second)
	start := rl.now()

	if w := postOrder(r, "s-1", ""); w.Code != http.StatusCreated {
		t.Fatalf("first -> %d", w.Code)
	}
	if w := postOrder(r, "s-1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second -> %d", w.Code)
	}
	rl.now = func() time.Time { return start.Add(time.Second) }
	if w := postOrder(r, "s-1", ""); w.Code != http.StatusCreated {
		t.Fatalf("next window -> %d", w.Code)
	}
}

func TestNewLimiter_PicksBackend(t *testing.T) {
	if _, ok := NewLimiter(nil, 5, 10).(*RateLimiter); !ok {
		t.Fatalf("expected in-memory limiter without redis")
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cases := []struct {
		rps   float64
		burst int
		want  int64
	}{
		{5, 10, 10},
		{12.5, 3, 13},
		{0, 0, 1},
	}
	for _, tc := range cases {
		l, ok := NewLimiter(rdb, tc.rps, tc.burst).(*RedisRateLimiter)
		if !ok {
			t.Fatalf("expected redis limiter")
		}
		if l.limit != tc.want || l.window != time.Second {
			t.Fatalf("NewLimiter(%v, %d) = limit %d window %v; want %d per second", tc.rps, tc.burst, l.limit, l.window, tc.want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		left time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Second, 10},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.left); got != tc.want {
			t.Fatalf("retryAfterSeconds(%v) = %d; want %d", tc.left, got, tc.want)
		}
	}
}
