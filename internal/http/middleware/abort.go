package middleware

import "github.com/gin-gonic/gin"

// abortJSON ends the chain with the API's error envelope. It mirrors
// handlers.ErrorResponse without importing the handlers package.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
