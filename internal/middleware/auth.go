package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authsvc/internal/apperr"
	"authsvc/internal/models"
	"authsvc/internal/repository"
	"authsvc/internal/security"
)

const identityKey = "identity"

type identityCtxKey struct{}

type TokenVerifier interface {
	Verify(token string) (security.IdentityClaims, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (models.User, error)
}

type VerificationMetrics interface {
	RecordTokenVerificationFailure(reason string)
}

// Gate holds what Authenticate needs to admit a request.
type Gate struct {
	Tokens       TokenVerifier
	Users        UserLookup
	AccessCookie string
	Metrics      VerificationMetrics
	Log          zerolog.Logger
}

// Policy decides which users pass a gate once their token is valid. Status
// is checked against the token claims, Role against the live user.
type Policy struct {
	Status models.StatusPredicate
	Role   models.RolePredicate
}

var (
	Strict    = Policy{Status: models.IsActive, Role: models.AnyRole}
	Relaxed   = Policy{Status: models.IsNewOrActive, Role: models.AnyRole}
	AdminOnly = Policy{Status: models.IsActiveOnly, Role: models.IsAdmin}
	OwnerOnly = Policy{Status: models.IsActiveOnly, Role: models.IsOwner}
)

// Authenticate admits requests carrying a valid access token whose user
// still exists with the same token version and passes policy.
func Authenticate(gate Gate, policy Policy) gin.HandlerFunc {
	if policy.Status == nil {
		policy.Status = models.IsActive
	}
	if policy.Role == nil {
		policy.Role = models.AnyRole
	}

	return func(c *gin.Context) {
		token := extractToken(c, gate.AccessCookie)
		if token == "" {
			AbortWithError(c, apperr.New(apperr.Unauthorized, "No authentication token provided"))
			return
		}

		claims, err := gate.Tokens.Verify(token)
		if err != nil {
			reason := failureReason(err)
			gate.Log.Debug().Err(err).Str("reason", reason).Str("request_id", RequestIDFrom(c)).Msg("access token rejected")
			if gate.Metrics != nil {
				gate.Metrics.RecordTokenVerificationFailure(reason)
			}
			AbortWithError(c, apperr.New(apperr.Unauthorized, "Invalid authentication token"))
			return
		}

		if !policy.Status(claims.Status) {
			AbortWithError(c, apperr.New(apperr.Forbidden, ""))
			return
		}

		user, err := gate.Users.GetByID(c.Request.Context(), claims.ID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				AbortWithError(c, apperr.New(apperr.Unauthorized, "Invalid token"))
				return
			}
			AbortWithError(c, apperr.Internal(err))
			return
		}
		if user.TokenVersion != claims.TokenVersion {
			AbortWithError(c, apperr.New(apperr.Unauthorized, "Invalid token"))
			return
		}

		if !policy.Role(user.Role) {
			AbortWithError(c, apperr.New(apperr.Forbidden, ""))
			return
		}

		c.Set(identityKey, claims)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityCtxKey{}, claims))

		c.Next()
	}
}

// extractToken prefers the Authorization header over the cookie.
func extractToken(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if cookieName != "" {
		if value, err := c.Cookie(cookieName); err == nil && value != "" {
			return value
		}
	}
	return ""
}

func failureReason(err error) string {
	var violation *security.SchemaViolation
	switch {
	case errors.Is(err, security.ErrExpired):
		return "expired"
	case errors.Is(err, security.ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, security.ErrInvalidSignature):
		return "invalid_signature"
	case errors.As(err, &violation):
		return "schema_violation"
	default:
		return "malformed"
	}
}

func IdentityFrom(c *gin.Context) (security.IdentityClaims, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return security.IdentityClaims{}, false
	}
	claims, ok := v.(security.IdentityClaims)
	return claims, ok
}

func IdentityFromContext(ctx context.Context) (security.IdentityClaims, bool) {
	claims, ok := ctx.Value(identityCtxKey{}).(security.IdentityClaims)
	return claims, ok
}
