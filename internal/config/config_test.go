package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// managed lists every variable Load reads so each test starts clean.
var managed = []string{
	"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "MAX_HEADER_BYTES", "GIN_MODE",
	"LOG_LEVEL", "LOG_PRETTY", "SWAGGER_ENABLED", "API_BASE_PATH",
	"DB_DRIVER", "DB_PATH", "DATABASE_URL", "REDIS_URL", "PUBLIC_BASE_URL",
	"WHATSAPP_API_HOST", "WHATSAPP_POLL_ENABLED", "WHATSAPP_POLL_INTERVAL", "WHATSAPP_POLL_PAGE_SIZE",
	"WHATSAPP_FETCH_TIMEOUT", "WATERMARK_LOCK_TTL", "KAFKA_BROKERS", "KAFKA_INBOUND_TOPIC",
	"CAPI_ENDPOINT", "CAPI_PIXEL_ID", "CAPI_ACCESS_TOKEN", "CAPI_TEST_EVENT_CODE", "CAPI_TIMEOUT",
	"RATE_RPS", "RATE_BURST", "CORS_ALLOWED_ORIGINS", "ENABLE_HSTS", "HSTS_MAX_AGE", "IDEMPOTENCY_TTL",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
}

func TestMain(m *testing.M) {
	for _, k := range managed {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"port", cfg.Port, "8080"},
		{"gin mode", cfg.GinMode, "release"},
		{"log level", cfg.LogLevel, "info"},
		{"base path", cfg.APIBasePath, "/api/v1"},
		{"driver", cfg.DB.Driver, "sqlite"},
		{"db path", cfg.DB.Path, "app.db"},
		{"public url", cfg.PublicBaseURL, "http://localhost:8080"},
		{"poll enabled", cfg.WhatsApp.PollEnabled, true},
		{"poll interval", cfg.WhatsApp.PollInterval, 10 * time.Second},
		{"poll page", cfg.WhatsApp.PollPageSize, 10},
		{"lock ttl", cfg.WhatsApp.LockTTL, 30 * time.Second},
		{"topic", cfg.Kafka.InboundTopic, "whatsapp.inbound"},
		{"brokers", len(cfg.Kafka.Brokers), 0},
		{"capi endpoint", cfg.Conversion.Endpoint, ""},
		{"rps", cfg.RateRPS, 5.0},
		{"burst", cfg.RateBurst, 10},
		{"hsts max age", cfg.Security.HSTSMaxAge, 180 * 24 * time.Hour},
		{"idempotency ttl", cfg.IdempotencyTTL, 24 * time.Hour},
		{"otel service", cfg.OTEL.ServiceName, "go-menu-backend"},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Errorf("%s = %v; want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	setenv(t, map[string]string{
		"PORT":                    "8088",
		"READ_TIMEOUT":            "2s",
		"MAX_HEADER_BYTES":        "8192",
		"GIN_MODE":                "weird",
		"LOG_LEVEL":               "WARNING",
		"LOG_PRETTY":              "yes",
		"SWAGGER_ENABLED":         "on",
		"API_BASE_PATH":           "api/v1/",
		"DB_DRIVER":               "PG",
		"DATABASE_URL":            "postgres://u:p@db/menu",
		"PUBLIC_BASE_URL":         "https://menu.example.com/",
		"WHATSAPP_API_HOST":       "https://api.provider.test/",
		"WHATSAPP_POLL_ENABLED":   "off",
		"WHATSAPP_POLL_PAGE_SIZE": " 25 ",
		"KAFKA_BROKERS":           "k1:9092, ,k2:9092",
		"CAPI_ENDPOINT":           "https://graph.test/v18.0/123/events",
		"CAPI_ACCESS_TOKEN":       "tok",
		"CORS_ALLOWED_ORIGINS":    " https://a.com , , http://b ",
		"ENABLE_HSTS":             "TRUE",
		"OTEL_TRACES_SAMPLER_ARG": "0.75",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.MaxHeaderBytes != 8192 || cfg.GinMode != "release" {
		t.Fatalf("server: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs: %+v", cfg)
	}
	if cfg.DB.Driver != "postgres" || cfg.WhatsApp.APIHost != "https://api.provider.test" || cfg.WhatsApp.PollEnabled {
		t.Fatalf("db/whatsapp: %+v %+v", cfg.DB, cfg.WhatsApp)
	}
	if cfg.WhatsApp.PollPageSize != 25 {
		t.Fatalf("page size = %d", cfg.WhatsApp.PollPageSize)
	}
	if got := cfg.WebhookURL("s1"); got != "https://menu.example.com/webhook/whatsapp/s1" {
		t.Fatalf("webhook url = %q", got)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("brokers = %#v", cfg.Kafka.Brokers)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("origins = %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("security/otel: %+v %+v", cfg.Security, cfg.OTEL)
	}
}

func TestLoad_MalformedValuesAreErrors(t *testing.T) {
	setenv(t, map[string]string{
		"RATE_RPS":     "fast",
		"RATE_BURST":   "many",
		"CAPI_TIMEOUT": "5",
		"ENABLE_HSTS":  "maybe",
	})
	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{`RATE_RPS="fast"`, `RATE_BURST="many"`, `CAPI_TIMEOUT="5"`, `ENABLE_HSTS="maybe"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"blank port", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"timeouts", map[string]string{"WRITE_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"blank db path", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres url", map[string]string{"DB_DRIVER": "postgresql"}, "DATABASE_URL"},
		{"poll interval", map[string]string{"WHATSAPP_POLL_INTERVAL": "-1s"}, "WHATSAPP_POLL_INTERVAL"},
		{"poll page size", map[string]string{"WHATSAPP_POLL_PAGE_SIZE": "101"}, "WHATSAPP_POLL_PAGE_SIZE"},
		{"lock ttl", map[string]string{"WATERMARK_LOCK_TTL": "0s"}, "WATERMARK_LOCK_TTL"},
		{"kafka topic", map[string]string{"KAFKA_BROKERS": "k1:9092", "KAFKA_INBOUND_TOPIC": " "}, "KAFKA_INBOUND_TOPIC"},
		{"capi token", map[string]string{"CAPI_ENDPOINT": "https://x"}, "CAPI_ACCESS_TOKEN"},
		{"rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setenv(t, tc.env)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	setenv(t, map[string]string{"LOG_LEVEL": "loud", "RATE_BURST": "0", "DB_DRIVER": "oracle"})
	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	if n := len(strings.Split(err.Error(), "\n")); n != 3 {
		t.Fatalf("want 3 joined errors, got %d: %v", n, err)
	}
}

func TestMustLoad(t *testing.T) {
	if cfg := MustLoad(); cfg.APIBasePath != "/api/v1" {
		t.Fatalf("MustLoad defaults: %+v", cfg)
	}

	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if recover() == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	MustLoad()
}

func TestEnv_Bool(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
		bad  bool
	}{
		{"1", false, true, false},
		{" Yes ", false, true, false},
		{"ON", false, true, false},
		{"n", true, false, false},
		{"off", true, false, false},
		{"", true, true, false},
		{"sure", true, true, true},
	}
	for _, tc := range cases {
		t.Setenv("X_BOOL", tc.raw)
		var e env
		if got := e.bool("X_BOOL", tc.def); got != tc.want || (len(e.errs) > 0) != tc.bad {
			t.Fatalf("bool(%q) = %v errs=%v; want %v bad=%v", tc.raw, got, e.errs, tc.want, tc.bad)
		}
	}
}

func TestSplitCSV_NormalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV(\"\") = %#v", out)
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV = %#v", got)
	}
	for in, want := range map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1", "//api//": "/api"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
