package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authsvc/internal/apperr"
	"authsvc/internal/ratelimit"
)

type RateLimitMetrics interface {
	RecordRateLimited(limiter string)
}

// RateLimit keys requests by client IP. Backend failures let the request
// through.
func RateLimit(limiter ratelimit.Limiter, metrics RateLimitMetrics, log zerolog.Logger) gin.HandlerFunc {
	name := limiter.Rule().Name

	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn().Err(err).Str("limiter", name).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		reset := seconds(decision.ResetAfter)
		h := c.Writer.Header()
		h.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("RateLimit-Reset", strconv.Itoa(reset))

		if !decision.Allowed {
			h.Set("Retry-After", strconv.Itoa(reset))
			if metrics != nil {
				metrics.RecordRateLimited(name)
			}
			AbortWithError(c, apperr.New(apperr.RateLimited, ""))
			return
		}

		c.Next()
	}
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
