// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. It
// scrubs obvious PII from request metadata before emitting logs and attaches
// a request-scoped zerolog.Logger for handlers (see LoggerFrom).
//
// What gets scrubbed:
//   - WhatsApp JIDs ("5511999990000@s.whatsapp.net")
//   - emails, phone numbers, UUID-like identifiers
//   - sensitive headers (Authorization, Cookie, Set-Cookie, plus custom)
//
// Request and response bodies are never logged.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions lists extra headers, matched case-insensitively, whose values
// are logged as "[REDACTED]".
type RedactOptions struct {
	MaskHeaders []string
}

var (
	jidRE   = regexp.MustCompile(`(?i)\b[0-9a-z.\-]+@(?:s\.whatsapp\.net|g\.us|c\.us|lid)\b`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex segments of UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,5}[ .-]?\d{4}\b`)
)

// Redact scrubs JIDs, UUIDs, emails and phone numbers from s. JIDs go
// first because they contain both a phone and an email-like suffix; UUIDs
// go before phones because the phone pattern would match their digit runs.
func Redact(s string) string {
	if s == "" {
		return s
	}
	out := jidRE.ReplaceAllString(s, "[REDACTED:jid]")
	out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger returns the access logger. Each request gets one line with
// the route pattern, scrubbed query and headers, status, sizes and latency,
// at error level for 5xx or recorded gin errors, warn for 4xx and info
// otherwise. Handlers reach a child logger carrying request_id and store_id
// through LoggerFrom.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		l := log.With().
			Str("request_id", reqID).
			Str("store_id", c.Param(storeParam)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set("logger", &l)

		headers := scrubHeaders(c.Request.Header, masked)

		c.Next()

		status := c.Writer.Status()
		ev := l.WithLevel(accessLevel(status, len(c.Errors) > 0))
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", Redact(c.Errors.String()))
		}
		ev.
			Str("query", truncate(Redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Str("referer", Redact(c.Request.Referer())).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("request")
	}
}

// scrubHeaders flattens h, replacing masked headers wholesale and running
// Redact over the rest.
func scrubHeaders(h http.Header, masked map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = Redact(strings.Join(vv, ", "))
	}
	return out
}

func accessLevel(status int, hasErrors bool) zerolog.Level {
	switch {
	case hasErrors, status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
