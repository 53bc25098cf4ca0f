// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header of checkout requests and
// flags replays before the rate limiter runs, so a client retrying a
// completed checkout is answered from the stored order instead of being
// throttled. The order service owns the authoritative (store, scope, key)
// record; this layer only peeks at it through IdempotencyLookup.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey makes a checkout safe to retry.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed is set on responses served from a stored result.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"

	defaultIdemMaxLen = 200
)

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator. Zero values select a
// 200 byte cap, the URL-safe default pattern and the wall clock.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
	Now     func() time.Time
}

// IdempotencyLookup reports whether an unexpired result exists for key in
// storeID at now.
type IdempotencyLookup func(ctx context.Context, storeID, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header when one is sent.
// Malformed keys are rejected with 400. A valid key is stashed for the
// handler and, when lookup finds a stored result for the request's store,
// the request is flagged as a replay that the rate limiter lets through.
// Lookup failures count as a miss: the handler still deduplicates against
// the database.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultIdemMaxLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultKeyPattern
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		storeID := StoreIDFrom(c)
		if lookup == nil || storeID == "" {
			c.Next()
			return
		}
		found, err := lookup(c.Request.Context(), storeID, key, opts.Now().UTC())
		switch {
		case err != nil:
			LoggerFrom(c).Debug().Err(err).Msg("idempotency lookup failed, treating as miss")
		case found:
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

// GetIdempotencyKey returns the key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the validator found a stored checkout for the key.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}
