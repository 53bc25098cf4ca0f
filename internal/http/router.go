// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, tenant scoping, idempotency, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The provider webhook is never throttled or cached
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-menu-backend/docs" // swagger spec registration
	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/http/handlers"
	"github.com/tbourn/go-menu-backend/internal/http/middleware"
	"github.com/tbourn/go-menu-backend/internal/inbound"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/services"
)

// Deps carries the collaborators built by the process entrypoint beyond the
// database. Any of them may be nil in tests: a nil dispatcher skips
// conversion events, a nil Redis keeps rate limiting in process, and a nil
// gateway or reconciler makes the WhatsApp routes fail with 5xx once they
// reach the provider.
type Deps struct {
	Conversion *conversion.Dispatcher
	Gateway    services.Gateway
	Reconciler *inbound.Reconciler
	Redis      redis.UniversalClient
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned API under cfg.APIBasePath and the provider webhook at the root.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip, CORS and security headers
//
// and, on the API group only:
//  8. StoreScope: X-Store-ID must match :storeId
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per store/IP, Redis-backed when configured, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"apikey", "X-Api-Token"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics", "/health"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression; PNGs are already compressed
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedExtensions([]string{".png"})))

	// CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderStoreID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag",
		middleware.HeaderIdempotencyReplayed, "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS). The
	// public menu is revalidated through its ETag; store administration and
	// the webhook are never stored.
	apiBase := strings.TrimRight(cfg.APIBasePath, "/")
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:         cfg.Security.EnableHSTS,
		HSTSMaxAge:         cfg.Security.HSTSMaxAge,
		NoStorePrefixes:    []string{apiBase + "/stores/", "/webhook/"},
		RevalidatePrefixes: []string{apiBase + "/menu/"},
		EnablePolicy:       true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db + provider/reconciler/dispatcher
	catalogSvc := services.NewCatalogService(db, deps.Conversion)
	orderSvc := services.NewOrderService(db, deps.Conversion, cfg.IdempotencyTTL)
	waSvc := &services.WhatsAppService{
		DB:          db,
		Gateway:     deps.Gateway,
		Reconciler:  deps.Reconciler,
		WebhookURL:  webhookURL(cfg),
		DefaultHost: cfg.WhatsApp.APIHost,
	}
	cartSvc := services.NewCartService(orderSvc)
	trackSvc := &services.TrackingService{DB: db, Conversion: deps.Conversion}
	h := handlers.New(catalogSvc, orderSvc, cartSvc, waSvc, trackSvc)

	// Versioned API
	api := groupWithPrefix(r, apiBase)
	{
		// Public menu
		api.GET("/menu/:slug", h.GetMenu)
		api.GET("/menu/:slug/search", h.SearchMenu)
		api.GET("/menu/:slug/products/:productId", h.GetProduct)
		api.POST("/menu/:slug/quote", h.QuoteCart)
	}

	rl := middleware.NewLimiter(deps.Redis, cfg.RateRPS, cfg.RateBurst)
	stores := api.Group("/stores/:storeId",
		// 8) Tenant scope
		middleware.StoreScope(),
		// 9) Idempotency validation (before rate limiting)
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, storeID, key string, now time.Time) (bool, error) {
				rec, err := repo.GetIdempotency(ctx, db, storeID, domain.ScopeCheckout, key, now)
				if err != nil || rec == nil {
					return false, nil
				}
				return true, nil
			},
		),
		// 10) Token-bucket rate limiter per store/IP
		rl.Handler(),
	)
	{
		// Catalog
		stores.GET("/sections", h.ListSections)
		stores.POST("/sections", h.CreateSection)
		stores.PUT("/sections/:id", h.UpdateSection)
		stores.DELETE("/sections/:id", h.DeleteSection)

		stores.GET("/products", h.ListProducts)
		stores.POST("/products", h.CreateProduct)
		stores.PUT("/products/:id", h.UpdateProduct)
		stores.DELETE("/products/:id", h.DeleteProduct)
		stores.GET("/products/:id/addon-groups", h.ListAddonGroups)
		stores.POST("/products/:id/addon-groups", h.CreateAddonGroup)
		stores.PUT("/addon-groups/:groupId", h.UpdateAddonGroup)
		stores.DELETE("/addon-groups/:groupId", h.DeleteAddonGroup)
		stores.POST("/addon-groups/:groupId/addons", h.CreateAddon)
		stores.PUT("/addons/:addonId", h.UpdateAddon)
		stores.DELETE("/addons/:addonId", h.DeleteAddon)

		// Orders
		stores.POST("/orders", h.Checkout)
		stores.GET("/orders", h.ListOrders)
		stores.GET("/orders/:id", h.GetOrder)
		stores.POST("/orders/:id/advance", h.AdvanceOrder)

		// Carts
		stores.POST("/carts", h.CreateCart)
		stores.GET("/carts/:cartId", h.GetCart)
		stores.POST("/carts/:cartId/lines", h.AddCartLine)
		stores.PATCH("/carts/:cartId/lines/:lineId", h.UpdateCartLine)
		stores.DELETE("/carts/:cartId/lines/:lineId", h.RemoveCartLine)
		stores.POST("/carts/:cartId/submit", h.SubmitCart)

		// WhatsApp session
		stores.POST("/whatsapp/connect", h.ConnectWhatsApp)
		stores.GET("/whatsapp/status", h.GetWhatsAppStatus)
		stores.PUT("/whatsapp/status", h.UpdateWhatsAppStatus)
		stores.PUT("/whatsapp/webhook", h.ReconfigureWebhook)
		stores.GET("/whatsapp/qrcode.png", h.WhatsAppQRCode)

		// Tracking
		stores.POST("/track/lead", h.TrackLead)
	}

	// Provider webhook: outside the API group so it is neither rate limited
	// nor subject to X-Store-ID scoping.
	r.POST("/webhook/whatsapp/:storeId", h.WhatsAppWebhook)
}

// webhookURL returns the builder of a store's public webhook URL, or nil
// when no public origin is configured.
func webhookURL(cfg config.Config) func(storeID string) string {
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil
	}
	return cfg.WebhookURL
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
