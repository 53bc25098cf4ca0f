// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, the WhatsApp ingestion loop, conversion tracking,
// rate limiting, and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-menu-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and addresses the relational store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// WhatsAppConfig drives the provider client and the fallback poller.
type WhatsAppConfig struct {
	APIHost      string        // default provider host when an instance has none
	PollEnabled  bool          // WHATSAPP_POLL_ENABLED
	PollInterval time.Duration // fixed delay between poll cycles
	PollPageSize int           // most recent inbound messages fetched per instance
	FetchTimeout time.Duration // per-instance fetch timeout
	LockTTL      time.Duration // cross-process watermark lock lease (Redis only)
}

// KafkaConfig addresses the downstream inbound-message topic. Empty brokers
// means confirmed messages are only logged.
type KafkaConfig struct {
	Brokers      []string
	InboundTopic string
}

// ConversionConfig addresses the conversion-tracking endpoint.
type ConversionConfig struct {
	Endpoint      string // full events URL; empty disables dispatch
	PixelID       string
	AccessToken   string
	TestEventCode string
	Timeout       time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB            DBConfig
	RedisURL      string // optional; enables the cross-process watermark lock
	PublicBaseURL string // public origin used to build webhook URLs

	WhatsApp   WhatsAppConfig
	Kafka      KafkaConfig
	Conversion ConversionConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values and validates the result. A variable that is set but
// cannot be parsed is an error rather than a silent fallback. Every problem
// found is reported, joined into one error.
func Load() (Config, error) {
	var e env
	cfg := Config{
		// Server
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		// App
		DB: DBConfig{
			Driver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:   e.str("DB_PATH", "app.db"),
			URL:    e.str("DATABASE_URL", ""),
		},
		RedisURL:      e.str("REDIS_URL", ""),
		PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		WhatsApp: WhatsAppConfig{
			APIHost:      strings.TrimRight(e.str("WHATSAPP_API_HOST", ""), "/"),
			PollEnabled:  e.bool("WHATSAPP_POLL_ENABLED", true),
			PollInterval: e.dur("WHATSAPP_POLL_INTERVAL", 10*time.Second),
			PollPageSize: e.int("WHATSAPP_POLL_PAGE_SIZE", 10),
			FetchTimeout: e.dur("WHATSAPP_FETCH_TIMEOUT", 8*time.Second),
			LockTTL:      e.dur("WATERMARK_LOCK_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:      splitCSV(e.str("KAFKA_BROKERS", "")),
			InboundTopic: e.str("KAFKA_INBOUND_TOPIC", "whatsapp.inbound"),
		},
		Conversion: ConversionConfig{
			Endpoint:      e.str("CAPI_ENDPOINT", ""),
			PixelID:       e.str("CAPI_PIXEL_ID", ""),
			AccessToken:   e.str("CAPI_ACCESS_TOKEN", ""),
			TestEventCode: e.str("CAPI_TEST_EVENT_CODE", ""),
			Timeout:       e.dur("CAPI_TIMEOUT", 5*time.Second),
		},

		// Rate limiting
		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.int("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-menu-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()

	if err := errors.Join(append(e.errs, cfg.validate()...)...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DB.Driver {
	case "postgresql", "pg":
		c.DB.Driver = "postgres"
	}
}

// validate returns every rule the configuration breaks.
func (c Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(false, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	check(c.WhatsApp.PollInterval > 0, "WHATSAPP_POLL_INTERVAL must be > 0")
	check(c.WhatsApp.PollPageSize >= 1 && c.WhatsApp.PollPageSize <= 100, "WHATSAPP_POLL_PAGE_SIZE must be between 1 and 100")
	check(c.WhatsApp.FetchTimeout > 0 && c.WhatsApp.LockTTL > 0, "WHATSAPP_FETCH_TIMEOUT and WATERMARK_LOCK_TTL must be > 0")
	check(len(c.Kafka.Brokers) == 0 || strings.TrimSpace(c.Kafka.InboundTopic) != "",
		"KAFKA_INBOUND_TOPIC must not be empty when KAFKA_BROKERS is set")
	check(c.Conversion.Endpoint == "" || c.Conversion.AccessToken != "", "CAPI_ACCESS_TOKEN is required when CAPI_ENDPOINT is set")
	check(c.Conversion.Timeout > 0, "CAPI_TIMEOUT must be > 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// WebhookURL returns the public webhook URL for a store.
func (c Config) WebhookURL(storeID string) string {
	return c.PublicBaseURL + "/webhook/whatsapp/" + storeID
}

// env reads typed variables. Unset or empty variables yield the default;
// unparsable ones yield the default and record an error.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", k, v, err))
}

func (e *env) str(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return n
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return f
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, errors.New("not a boolean"))
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones, except
// for the root path.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
