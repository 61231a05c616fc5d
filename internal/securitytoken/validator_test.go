package securitytoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/apperr"
	"authsvc/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pending() *models.SecurityToken {
	return &models.SecurityToken{
		ID:        1,
		UserID:    10,
		Type:      models.TokenTypeEmailVerification,
		Status:    models.TokenStatusPending,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestValidateAcceptsPendingToken(t *testing.T) {
	record, err := Validate(pending(), models.TokenTypeEmailVerification, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.ID)
}

func TestValidateExpiryBoundary(t *testing.T) {
	token := pending()
	token.ExpiresAt = now

	_, err := Validate(token, models.TokenTypeEmailVerification, now)
	assert.NoError(t, err, "expiresAt == now is still valid")

	_, err = Validate(token, models.TokenTypeEmailVerification, now.Add(time.Millisecond))
	assert.True(t, apperr.Is(err, apperr.TokenExpired))
}

func TestValidateCheckOrder(t *testing.T) {
	usedAt := now.Add(-time.Minute)

	cases := []struct {
		name     string
		record   *models.SecurityToken
		expected models.TokenType
		code     apperr.Code
	}{
		{
			name:     "missing",
			record:   nil,
			expected: models.TokenTypePasswordReset,
			code:     apperr.TokenNotFound,
		},
		{
			name: "used beats every later check",
			record: func() *models.SecurityToken {
				r := pending()
				r.Status = models.TokenStatusUsed
				r.UsedAt = &usedAt
				r.ExpiresAt = now.Add(-time.Hour)
				return r
			}(),
			expected: models.TokenTypePasswordReset,
			code:     apperr.TokenAlreadyUsed,
		},
		{
			name: "usedAt alone counts as used",
			record: func() *models.SecurityToken {
				r := pending()
				r.UsedAt = &usedAt
				return r
			}(),
			expected: models.TokenTypeEmailVerification,
			code:     apperr.TokenAlreadyUsed,
		},
		{
			name: "deprecated beats expired and type mismatch",
			record: func() *models.SecurityToken {
				r := pending()
				r.Status = models.TokenStatusDeprecated
				r.ExpiresAt = now.Add(-time.Hour)
				return r
			}(),
			expected: models.TokenTypePasswordReset,
			code:     apperr.TokenDeprecated,
		},
		{
			name: "expired beats type mismatch",
			record: func() *models.SecurityToken {
				r := pending()
				r.ExpiresAt = now.Add(-time.Second)
				return r
			}(),
			expected: models.TokenTypePasswordReset,
			code:     apperr.TokenExpired,
		},
		{
			name:     "type mismatch",
			record:   pending(),
			expected: models.TokenTypePasswordReset,
			code:     apperr.TokenTypeMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.record, tc.expected, now)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
}
