package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/repo"
)

// ---------- helpers ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, db *gorm.DB, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, db, Deps{}, cfg)
	return r
}

// seedStore creates a store whose menu has a single plain product.
func seedStore(t *testing.T, db *gorm.DB, slug string) (*domain.Store, *domain.Product) {
	t.Helper()
	ctx := context.Background()
	st, err := repo.CreateStore(ctx, db, slug, "Store "+slug)
	require.NoError(t, err)
	sec, err := repo.CreateSection(ctx, db, st.ID, "Porções", 0)
	require.NoError(t, err)
	p := &domain.Product{StoreID: st.ID, SectionID: sec.ID, Name: "Batata frita", Price: "12.90", IsAvailable: true}
	require.NoError(t, repo.CreateProduct(ctx, db, p))
	return st, p
}

func send(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- engine basics ----------

func TestRegisterRoutes_HealthMetricsFallbacks_AllowAllCORS(t *testing.T) {
	r := newRouter(t, newTestDB(t), baseConfig())

	w := send(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = send(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = send(r, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)

	w = send(r, http.MethodDelete, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), `"method_not_allowed"`)

	// preflight advertises the custom headers
	w = send(r, http.MethodOptions, "/api/v1/stores/s-1/orders", "", map[string]string{
		"Origin":                         "https://pdv.example.com",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "X-Store-ID, Idempotency-Key",
	})
	assert.Less(t, w.Code, 300)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS.AllowedOrigins = []string{"https://menu.example.com"}
	r := newRouter(t, newTestDB(t), cfg)

	w := send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://menu.example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://menu.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")

	w = send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterRoutes_SwaggerOnlyWhenEnabled(t *testing.T) {
	w := send(newRouter(t, newTestDB(t), baseConfig()), http.MethodGet, "/swagger/index.html", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	w = send(newRouter(t, newTestDB(t), cfg), http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/menu/{slug}")
}

// ---------- API pipeline ----------

func TestPipeline_MenuCheckoutReplay(t *testing.T) {
	db := newTestDB(t)
	st, fries := seedStore(t, db, "pipeline-house")
	r := newRouter(t, db, baseConfig())

	t.Run("public menu is cacheable", func(t *testing.T) {
		w := send(r, http.MethodGet, "/api/v1/menu/pipeline-house", "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotEmpty(t, w.Header().Get("ETag"))
		assert.Equal(t, "public, max-age=0, must-revalidate", w.Header().Get("Cache-Control"))
	})

	orders := "/api/v1/stores/" + st.ID + "/orders"
	body := fmt.Sprintf(`{"customer_name":"Ana","items":[{"product_id":%q,"quantity":2}]}`, fries.ID)
	hdr := map[string]string{
		middleware.HeaderStoreID:        st.ID,
		middleware.HeaderIdempotencyKey: "order-abc-1",
	}

	var first domain.Order
	t.Run("checkout creates the order", func(t *testing.T) {
		w := send(r, http.MethodPost, orders, body, hdr)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
		assert.True(t, decimal.RequireFromString("25.80").Equal(first.TotalAmount), first.TotalAmount.String())
	})

	t.Run("same key replays the order", func(t *testing.T) {
		w := send(r, http.MethodPost, orders, body, hdr)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "true", w.Header().Get(middleware.HeaderIdempotencyReplayed))
		var again domain.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("malformed key is rejected", func(t *testing.T) {
		w := send(r, http.MethodPost, orders, body, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("foreign X-Store-ID hides the store", func(t *testing.T) {
		w := send(r, http.MethodGet, orders+"/"+first.ID, "", map[string]string{middleware.HeaderStoreID: "someone-else"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = send(r, http.MethodGet, orders+"/"+first.ID, "", map[string]string{middleware.HeaderStoreID: st.ID})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPipeline_RateLimitSparesReplaysAndWebhook(t *testing.T) {
	db := newTestDB(t)
	st, fries := seedStore(t, db, "busy-house")
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r := newRouter(t, db, cfg)

	orders := "/api/v1/stores/" + st.ID + "/orders"
	body := fmt.Sprintf(`{"items":[{"product_id":%q,"quantity":1}]}`, fries.ID)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "only-once"}

	w := send(r, http.MethodPost, orders, body, hdr)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// the bucket is empty, but a replay is served anyway
	w = send(r, http.MethodPost, orders, body, hdr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = send(r, http.MethodPost, orders, body, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// the provider webhook sits outside the limiter; a store without a session is unknown
	for i := 0; i < 3; i++ {
		w = send(r, http.MethodPost, "/webhook/whatsapp/"+st.ID, `{"instance_key":"k1","key":{"id":"M1"}}`, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	}
}

func TestPipeline_SharedRateLimitWithRedis(t *testing.T) {
	db := newTestDB(t)
	st, _ := seedStore(t, db, "shared-house")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := baseConfig()
	cfg.RateRPS = 1
	cfg.RateBurst = 1
	gin.SetMode(gin.TestMode)
	// two engines stand in for two replicas sharing one budget
	a, b := gin.New(), gin.New()
	RegisterRoutes(a, db, Deps{Redis: rdb}, cfg)
	RegisterRoutes(b, db, Deps{Redis: rdb}, cfg)

	// three requests span at most two one-second windows, so one must be rejected
	path := "/api/v1/stores/" + st.ID + "/sections"
	limited := 0
	for _, r := range []*gin.Engine{a, b, a} {
		w := send(r, http.MethodGet, path, "", nil)
		if w.Code == http.StatusTooManyRequests {
			limited++
			continue
		}
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.GreaterOrEqual(t, limited, 1)
	assert.NotEmpty(t, mr.Keys())
}

func TestIdempotencyLookup_Branches(t *testing.T) {
	db := newTestDB(t)
	st, fries := seedStore(t, db, "idem-house")
	r := newRouter(t, db, baseConfig())
	orders := "/api/v1/stores/" + st.ID + "/orders"
	body := fmt.Sprintf(`{"items":[{"product_id":%q,"quantity":1}]}`, fries.ID)

	t.Run("expired record is a miss", func(t *testing.T) {
		require.NoError(t, db.Create(&domain.Idempotency{
			ID: uuid.NewString(), StoreID: st.ID, Scope: domain.ScopeCheckout, Key: "old-key",
			ResourceID: "gone", Status: http.StatusCreated, ExpiresAt: time.Now().Add(-time.Hour),
		}).Error)
		w := send(r, http.MethodPost, orders, body, map[string]string{middleware.HeaderIdempotencyKey: "old-key"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	})

	t.Run("lookup error is treated as a miss", func(t *testing.T) {
		broken := newTestDB(t)
		st2, fries2 := seedStore(t, broken, "broken-house")
		require.NoError(t, broken.Migrator().DropTable(&domain.Idempotency{}))
		rb := newRouter(t, broken, baseConfig())
		w := send(rb, http.MethodPost, "/api/v1/stores/"+st2.ID+"/orders",
			fmt.Sprintf(`{"items":[{"product_id":%q,"quantity":1}]}`, fries2.ID),
			map[string]string{middleware.HeaderIdempotencyKey: "k-err"})
		assert.NotEqual(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	})
}

// ---------- small helpers ----------

func Test_webhookURL(t *testing.T) {
	assert.Nil(t, webhookURL(config.Config{}))
	assert.Nil(t, webhookURL(config.Config{PublicBaseURL: "   "}))
	f := webhookURL(config.Config{PublicBaseURL: "https://api.example.com"})
	require.NotNil(t, f)
	assert.Equal(t, "https://api.example.com/webhook/whatsapp/s-1", f("s-1"))
}

func Test_limitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(4))
	r.POST("/x", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := send(r, http.MethodPost, "/x", "1234", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = send(r, http.MethodPost, "/x", "12345", nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, prefix := range []string{"", "/"} {
		r := gin.New()
		groupWithPrefix(r, prefix).GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/ping", "", nil).Code)
	}

	r := gin.New()
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/api/ping", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, send(r, http.MethodGet, "/ping", "", nil).Code)
}
