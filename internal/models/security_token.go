package models

import "time"

type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypePasswordReset     TokenType = "password_reset"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeEmailVerification || t == TokenTypePasswordReset
}

// TokenStatus moves only pending -> used or pending -> deprecated.
type TokenStatus string

const (
	TokenStatusPending    TokenStatus = "pending"
	TokenStatusUsed       TokenStatus = "used"
	TokenStatusDeprecated TokenStatus = "deprecated"
)

// SecurityToken is a single-use emailed secret. Only the SHA-256 digest of
// the value is persisted.
type SecurityToken struct {
	ID        int64
	UserID    int64
	Type      TokenType
	Status    TokenStatus
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	Metadata  map[string]any
	CreatedAt time.Time
}
