package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders  = "Authorization, Content-Type, X-Request-Id"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	exposeHeaders = "X-Request-Id, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset, Retry-After"
)

type CORSOptions struct {
	AllowedOrigins []string
	// AllowLocalhost admits any http(s)://localhost or 127.0.0.1 origin.
	AllowLocalhost bool
	MaxAge         int
}

// CORSForEnvironment returns development-friendly options outside
// production and staging.
func CORSForEnvironment(production bool, origins []string) CORSOptions {
	if production {
		return CORSOptions{AllowedOrigins: origins, MaxAge: 3600}
	}
	return CORSOptions{AllowedOrigins: origins, AllowLocalhost: true, MaxAge: 600}
}

func CORS(opts CORSOptions) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		originMap[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	maxAge := strconv.Itoa(opts.MaxAge)

	allowed := func(origin string) bool {
		if _, ok := originMap[origin]; ok {
			return true
		}
		return opts.AllowLocalhost && isLocalOrigin(origin)
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.Request.Header.Get("Origin")
		h.Add("Vary", "Origin")

		if origin != "" && allowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && allowed(origin) {
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
