package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authsvc/internal/apperr"
	"authsvc/internal/config"
	"authsvc/internal/middleware"
	"authsvc/internal/ratelimit"
	"authsvc/internal/service"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Limiters are applied per route group. A nil limiter disables limiting.
type Limiters struct {
	General ratelimit.Limiter
	Auth    ratelimit.Limiter
	Strict  ratelimit.Limiter
}

type Deps struct {
	Log            zerolog.Logger
	Config         *config.AppConfig
	Auth           *service.AuthService
	Admin          *service.AdminService
	Gate           middleware.Gate
	Limiters       Limiters
	Captcha        middleware.CaptchaVerifier
	Metrics        middleware.RateLimitMetrics
	MetricsHandler http.Handler
	Checks         map[string]HealthCheck
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	auth    *service.AuthService
	admin   *service.AdminService
	gate    middleware.Gate
	limits  Limiters
	captcha middleware.CaptchaVerifier
	metrics middleware.RateLimitMetrics
	promh   http.Handler
	checks  map[string]HealthCheck
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{
		log:     deps.Log,
		cfg:     deps.Config,
		auth:    deps.Auth,
		admin:   deps.Admin,
		gate:    deps.Gate,
		limits:  deps.Limiters,
		captcha: deps.Captcha,
		metrics: deps.Metrics,
		promh:   deps.MetricsHandler,
		checks:  deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)
	if h.promh != nil {
		router.GET("/metrics", gin.WrapH(h.promh))
	}

	v1 := router.Group("/v1")
	v1.Use(h.limit(h.limits.General)...)

	auth := v1.Group("/auth")
	{
		authLimited := h.limit(h.limits.Auth)
		strict := h.limit(h.limits.Strict)
		captcha := h.requireCaptcha()

		auth.POST("/signup", chain(h.Signup, authLimited, captcha)...)
		auth.POST("/login", chain(h.Login, authLimited)...)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		auth.POST("/verify-email", chain(h.VerifyEmail, strict)...)
		auth.POST("/resend-verification", chain(h.ResendVerification, strict, captcha)...)
		auth.POST("/password-reset/request", chain(h.RequestPasswordReset, strict, captcha)...)
		auth.POST("/password-reset/confirm", chain(h.ConfirmPasswordReset, strict)...)

		auth.POST("/logout-all", middleware.Authenticate(h.gate, middleware.Relaxed), h.LogoutAll)
	}

	users := v1.Group("/users")
	users.Use(middleware.Authenticate(h.gate, middleware.Relaxed))
	users.GET("/me", h.Me)
	users.PATCH("/me", h.UpdateMe)
	users.GET("/me/sessions", h.ListSessions)

	admin := v1.Group("/admin")
	admin.Use(middleware.Authenticate(h.gate, middleware.AdminOnly))
	admin.GET("/users", h.AdminListUsers)
	admin.PATCH("/users/:id/status", h.AdminSetStatus)
	admin.POST("/users/:id/revoke-sessions", h.AdminRevokeSessions)

	owner := v1.Group("/owner")
	owner.Use(middleware.Authenticate(h.gate, middleware.OwnerOnly))
	owner.PATCH("/admins/:id", h.OwnerSetRole)
}

func (h HandlerSet) limit(l ratelimit.Limiter) []gin.HandlerFunc {
	if l == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimit(l, h.metrics, h.log)}
}

// requireCaptcha is empty when no verifier is configured.
func (h HandlerSet) requireCaptcha() []gin.HandlerFunc {
	if h.captcha == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.Captcha(h.captcha)}
}

// chain runs the middleware groups in order, then final.
func chain(final gin.HandlerFunc, groups ...[]gin.HandlerFunc) []gin.HandlerFunc {
	var out []gin.HandlerFunc
	for _, g := range groups {
		out = append(out, g...)
	}
	return append(out, final)
}

// bindJSON decodes the body into dst and writes the error response on
// failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.AbortWithError(c, apperr.New(apperr.RequestTooLarge, ""))
			return false
		}
		middleware.AbortWithError(c, apperr.Wrap(err, apperr.BadRequest, "Invalid request body"))
		return false
	}
	return true
}

func client(c *gin.Context) service.Client {
	return service.Client{IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
