// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file scopes store administration routes to the tenant named in the
// :storeId path parameter. Authentication happens upstream; when the gateway
// forwards the caller's store as X-Store-ID, a request for any other store
// is answered as if the store did not exist.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderStoreID carries the authenticated caller's store.
	HeaderStoreID = "X-Store-ID"

	storeParam  = "storeId"
	ctxKeyStore = "storeID"
)

// StoreScope rejects requests whose X-Store-ID header names a different store
// than the :storeId path parameter with 404, and stashes the store id for
// loggers and handlers.
func StoreScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := strings.TrimSpace(c.Param(storeParam))
		if storeID == "" {
			c.Next()
			return
		}
		if h := strings.TrimSpace(c.GetHeader(HeaderStoreID)); h != "" && h != storeID {
			abortJSON(c, http.StatusNotFound, "not_found", "store not found")
			return
		}
		c.Set(ctxKeyStore, storeID)
		c.Next()
	}
}

// StoreIDFrom returns the store id set by StoreScope, falling back to the
// path parameter.
func StoreIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyStore); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.Param(storeParam)
}
