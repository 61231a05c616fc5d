package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"authsvc/internal/database"
	"authsvc/internal/models"
)

var (
	ErrSecurityTokenNotFound   = errors.New("security token not found")
	ErrSecurityTokenNotPending = errors.New("security token is no longer pending")
)

const securityTokenColumns = `id, user_id, type, status, token_hash, expires_at, used_at, metadata, created_at`

type SecurityTokenRepository struct {
	db database.DB
}

func NewSecurityTokenRepository(db database.DB) *SecurityTokenRepository {
	return &SecurityTokenRepository{db: db}
}

// LockOwner takes a row lock on the owning user for the rest of the ambient
// transaction, serializing token issuance per user.
func (r *SecurityTokenRepository) LockOwner(ctx context.Context, userID int64) error {
	const query = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	var id int64
	if err := database.Conn(ctx, r.db).QueryRow(ctx, query, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

// DeprecatePending marks every unused pending token of the given type as
// deprecated and returns how many rows changed.
func (r *SecurityTokenRepository) DeprecatePending(ctx context.Context, userID int64, tokenType models.TokenType) (int64, error) {
	const query = `
		UPDATE security_tokens
		SET status = 'deprecated'
		WHERE user_id = $1 AND type = $2 AND status = 'pending' AND used_at IS NULL
	`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, userID, string(tokenType))
	if err != nil {
		return 0, fmt.Errorf("deprecate tokens: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *SecurityTokenRepository) Create(ctx context.Context, token *models.SecurityToken) error {
	const query = `
		INSERT INTO security_tokens (user_id, type, status, token_hash, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := database.Conn(ctx, r.db).QueryRow(ctx, query,
		token.UserID,
		string(token.Type),
		string(token.Status),
		token.TokenHash,
		token.ExpiresAt,
		token.Metadata,
	).Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert security token: %w", err)
	}
	return nil
}

func (r *SecurityTokenRepository) FindByHash(ctx context.Context, hash string) (models.SecurityToken, error) {
	query := `SELECT ` + securityTokenColumns + ` FROM security_tokens WHERE token_hash = $1`

	var token models.SecurityToken
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, hash).Scan(
		&token.ID,
		&token.UserID,
		&token.Type,
		&token.Status,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.Metadata,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SecurityToken{}, ErrSecurityTokenNotFound
		}
		return models.SecurityToken{}, err
	}
	return token, nil
}

// UpdateStatus moves a pending token to a terminal status. It reports
// ErrSecurityTokenNotPending when the token already left the pending state.
func (r *SecurityTokenRepository) UpdateStatus(ctx context.Context, id int64, status models.TokenStatus, usedAt *time.Time) error {
	const query = `
		UPDATE security_tokens
		SET status = $2, used_at = COALESCE($3, used_at)
		WHERE id = $1 AND status = 'pending' AND used_at IS NULL
	`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, id, string(status), usedAt)
	if err != nil {
		return fmt.Errorf("update security token: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrSecurityTokenNotPending
	}
	return nil
}

// DeleteStale removes tokens created before cutoff that can no longer be
// consumed.
func (r *SecurityTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM security_tokens
		WHERE created_at < $1 AND (status <> 'pending' OR expires_at < $1)
	`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
