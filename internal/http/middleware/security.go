// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders: conservative response headers for a
// JSON API behind a reverse proxy, plus the cache policy split between the
// public menu (revalidated through its ETag) and store administration or
// webhook traffic (never stored).
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// HSTS is emitted only when EnableHSTS is set and the request arrived over
// HTTPS (directly or per X-Forwarded-Proto). HSTSMaxAge defaults to 180 days.
//
// NoStore applies Cache-Control: no-store to every response; NoStorePrefixes
// applies it only below the given path prefixes. RevalidatePrefixes marks
// responses as cacheable but always revalidated, which suits ETag-backed
// reads such as the public menu. NoStore wins when both match.
type SecurityOptions struct {
	EnableHSTS         bool
	HSTSMaxAge         time.Duration
	NoStore            bool
	NoStorePrefixes    []string
	RevalidatePrefixes []string
	EnablePolicy       bool // Permissions-Policy and X-Permitted-Cross-Domain-Policies
}

// SecurityHeaders returns a Gin middleware that always sets
// X-Content-Type-Options, X-Frame-Options and Referrer-Policy, and the
// optional headers selected by opt. When X-Request-ID is already on the
// response it is added to Access-Control-Expose-Headers.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		path := c.Request.URL.Path
		switch {
		case opt.NoStore || hasAnyPrefix(path, opt.NoStorePrefixes):
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		case hasAnyPrefix(path, opt.RevalidatePrefixes):
			h.Set("Cache-Control", "public, max-age=0, must-revalidate")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if rid := h.Get(requestIDHeader); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, requestIDHeader)
			} else if !strings.Contains(cur, requestIDHeader) {
				h.Set(hdr, cur+", "+requestIDHeader)
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request used HTTPS directly or via a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
