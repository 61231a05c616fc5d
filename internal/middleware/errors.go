package middleware

import (
	"github.com/gin-gonic/gin"

	"authsvc/internal/apperr"
)

type errorBody struct {
	Code      apperr.Code `json:"code"`
	Error     string      `json:"error"`
	Path      string      `json:"path"`
	RequestID string      `json:"requestId,omitempty"`
}

// AbortWithError writes the registry response for err and stops the chain.
// The error is attached to the context so the access log records its cause.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	code := apperr.CodeOf(err)
	c.AbortWithStatusJSON(apperr.Lookup(code).Status, errorBody{
		Code:      code,
		Error:     apperr.PublicMessage(err),
		Path:      c.Request.URL.Path,
		RequestID: RequestIDFrom(c),
	})
}
