package security

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"

	"authsvc/internal/clock"
	"authsvc/internal/models"
)

// Claim names carried in access tokens.
const (
	ClaimID           = "id"
	ClaimEmail        = "email"
	ClaimRole         = "role"
	ClaimStatus       = "status"
	ClaimTokenVersion = "tokenVersion"
	ClaimIssuedAt     = "iat"
	ClaimNotBefore    = "nbf"
	ClaimExpiresAt    = "exp"
)

// IdentityClaims is the identity embedded in an access token.
type IdentityClaims struct {
	ID           int64             `json:"id"`
	Email        string            `json:"email"`
	Role         models.UserRole   `json:"role"`
	Status       models.UserStatus `json:"status"`
	TokenVersion int               `json:"tokenVersion"`
}

func ClaimsForUser(user models.User) IdentityClaims {
	return IdentityClaims{
		ID:           user.ID,
		Email:        user.Email,
		Role:         user.Role,
		Status:       user.Status,
		TokenVersion: user.TokenVersion,
	}
}

// SchemaViolation reports a decoded payload that does not have the shape of
// IdentityClaims.
type SchemaViolation struct {
	Field  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("claims schema violation: %s %s", e.Field, e.Reason)
}

// Codec converts between IdentityClaims and signed token payloads.
type Codec struct {
	clock clock.Clock
}

func NewCodec(clk clock.Clock) Codec {
	if clk == nil {
		clk = clock.System()
	}
	return Codec{clock: clk}
}

// Encode merges identity with iat, nbf (both now) and exp (now + ttl), in
// whole seconds.
func (c Codec) Encode(claims IdentityClaims, ttl time.Duration) jwt.MapClaims {
	now := c.clock.Now().Unix()
	return jwt.MapClaims{
		ClaimID:           claims.ID,
		ClaimEmail:        claims.Email,
		ClaimRole:         string(claims.Role),
		ClaimStatus:       string(claims.Status),
		ClaimTokenVersion: claims.TokenVersion,
		ClaimIssuedAt:     now,
		ClaimNotBefore:    now,
		ClaimExpiresAt:    now + int64(ttl/time.Second),
	}
}

// Decode validates the identity part of a verified payload. Extra keys are
// ignored.
func (c Codec) Decode(payload jwt.MapClaims) (IdentityClaims, error) {
	var out IdentityClaims

	id, err := integerClaim(payload, ClaimID)
	if err != nil {
		return IdentityClaims{}, err
	}
	out.ID = id

	email, err := stringClaim(payload, ClaimEmail)
	if err != nil {
		return IdentityClaims{}, err
	}
	if err := validation.Validate(email, is.Email); err != nil {
		return IdentityClaims{}, &SchemaViolation{Field: ClaimEmail, Reason: "is not a valid email"}
	}
	out.Email = email

	role, err := stringClaim(payload, ClaimRole)
	if err != nil {
		return IdentityClaims{}, err
	}
	out.Role = models.UserRole(role)
	if !out.Role.Valid() {
		return IdentityClaims{}, &SchemaViolation{Field: ClaimRole, Reason: fmt.Sprintf("has unknown value %q", role)}
	}

	status, err := stringClaim(payload, ClaimStatus)
	if err != nil {
		return IdentityClaims{}, err
	}
	out.Status = models.UserStatus(status)
	if !out.Status.Valid() {
		return IdentityClaims{}, &SchemaViolation{Field: ClaimStatus, Reason: fmt.Sprintf("has unknown value %q", status)}
	}

	version, err := integerClaim(payload, ClaimTokenVersion)
	if err != nil {
		return IdentityClaims{}, err
	}
	out.TokenVersion = int(version)

	return out, nil
}

func stringClaim(payload jwt.MapClaims, name string) (string, error) {
	raw, ok := payload[name]
	if !ok {
		return "", &SchemaViolation{Field: name, Reason: "is missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &SchemaViolation{Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func integerClaim(payload jwt.MapClaims, name string) (int64, error) {
	raw, ok := payload[name]
	if !ok {
		return 0, &SchemaViolation{Field: name, Reason: "is missing"}
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, &SchemaViolation{Field: name, Reason: "must be an integer"}
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &SchemaViolation{Field: name, Reason: "must be an integer"}
		}
		return n, nil
	default:
		return 0, &SchemaViolation{Field: name, Reason: "must be an integer"}
	}
}
