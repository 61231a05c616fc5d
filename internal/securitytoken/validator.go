package securitytoken

import (
	"time"

	"authsvc/internal/apperr"
	"authsvc/internal/models"
)

// Validate checks a looked-up token record in a fixed order: existence,
// not used, not deprecated, not expired, type. The first failing check
// decides the error. It has no side effects.
func Validate(record *models.SecurityToken, expected models.TokenType, now time.Time) (models.SecurityToken, error) {
	if record == nil {
		return models.SecurityToken{}, apperr.New(apperr.TokenNotFound, "")
	}
	if record.Status == models.TokenStatusUsed || record.UsedAt != nil {
		return models.SecurityToken{}, apperr.New(apperr.TokenAlreadyUsed, "")
	}
	if record.Status == models.TokenStatusDeprecated {
		return models.SecurityToken{}, apperr.New(apperr.TokenDeprecated, "")
	}
	if now.After(record.ExpiresAt) {
		return models.SecurityToken{}, apperr.New(apperr.TokenExpired, "")
	}
	if record.Type != expected {
		return models.SecurityToken{}, apperr.New(apperr.TokenTypeMismatch, "")
	}
	return *record, nil
}
