package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authsvc/internal/apperr"
)

// BodyLimit rejects requests whose declared length exceeds limit and caps
// the body reader for the rest.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			AbortWithError(c, apperr.New(apperr.RequestTooLarge, ""))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
