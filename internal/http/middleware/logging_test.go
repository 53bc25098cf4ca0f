package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func ridEngine(t *testing.T, seen *string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		*seen = RequestIDFrom(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestID_GeneratePropagateSanitize(t *testing.T) {
	var seen string
	r := ridEngine(t, &seen)

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"absent", "", false},
		{"pos terminal id", "pdv-07:req.42", true},
		{"uuid", "8d2b7c52-3c55-4e0c-9d7e-1c1b3fd1e5a0", true},
		{"spaces", "abc 123", false},
		{"log injection", "x\"}{\"level\":\"error", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header %q and context %q must match and be non-empty", got, seen)
			}
			if tc.keep && got != tc.incoming {
				t.Fatalf("expected %q to be propagated, got %q", tc.incoming, got)
			}
			if !tc.keep && got == tc.incoming {
				t.Fatalf("expected %q to be replaced", tc.incoming)
			}
		})
	}
}

func TestRequestIDFrom_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := RequestIDFrom(c); got != "" {
		t.Fatalf("RequestIDFrom without middleware = %q", got)
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/stores/:storeId/panic", StoreScope(), func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stores/s-9/panic", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}
	out := buf.String()
	for _, want := range []string{`"panic recovered"`, `"store_id":"s-9"`, `"request_id":"rid-panic"`, `"stack"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in panic log, got:\n%s", want, out)
		}
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/qrcode.png", func(c *gin.Context) {
		c.Data(http.StatusOK, "image/png", []byte("\x89PNG"))
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/qrcode.png", nil))

	// the image was already flushed; no JSON may be appended to it
	if strings.Contains(w.Body.String(), "internal_error") || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected untouched image response; got CT=%q body=%q", w.Header().Get("Content-Type"), w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("fallback carries correlation fields", func(t *testing.T) {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID())
		r.GET("/stores/:storeId/use", StoreScope(), func(c *gin.Context) {
			LoggerFrom(c).Info().Msg("custom")
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/stores/s-1/use", nil)
		req.Header.Set(requestIDHeader, "rid-1")
		r.ServeHTTP(httptest.NewRecorder(), req)

		out := buf.String()
		if !strings.Contains(out, `"message":"custom"`) || !strings.Contains(out, `"request_id":"rid-1"`) || !strings.Contains(out, `"store_id":"s-1"`) {
			t.Fatalf("unexpected fallback log: %s", out)
		}
	})

	t.Run("bare context logs without fields", func(t *testing.T) {
		buf := captureLogger(t)
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		LoggerFrom(c).Info().Msg("bare")
		if strings.Contains(buf.String(), "request_id") {
			t.Fatalf("bare context should have no request_id: %s", buf.String())
		}
	})

	t.Run("access logger attaches its own", func(t *testing.T) {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RequestID())
		r.Use(RedactingLogger(RedactOptions{}))
		r.GET("/use", func(c *gin.Context) {
			LoggerFrom(c).Info().Msg("custom2")
			c.Status(http.StatusOK)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/use", nil))

		out := buf.String()
		if !strings.Contains(out, `"message":"custom2"`) || !strings.Contains(out, `"path":"/use"`) {
			t.Fatalf("expected request-scoped log, got:\n%s", out)
		}
	})
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	if asString("x") != "x" || asString(123) != "" || asString(nil) != "" {
		t.Fatalf("asString failed")
	}
	if truncate("hello", 10) != "hello" {
		t.Fatalf("truncate no-op failed")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate result = %q; want %q", got, "abcde…")
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("truncate disable failed")
	}
}
