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
	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenNotActive = errors.New("refresh token already revoked")
)

const refreshTokenColumns = `id, user_id, token_hash, ip_address, user_agent, expires_at, revoked_at, created_at, updated_at`

type RefreshTokenRepository struct {
	db database.DB
}

func NewRefreshTokenRepository(db database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := database.Conn(ctx, r.db).QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.IPAddress,
		token.UserAgent,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshToken(database.Conn(ctx, r.db).QueryRow(ctx, query, hash))
}

// ListActiveByUser returns unrevoked, unexpired tokens, newest first.
func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := database.Conn(ctx, r.db).Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// Revoke marks an unrevoked token as revoked. It returns
// ErrRefreshTokenNotActive when another caller revoked it first.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE refresh_tokens SET revoked_at = $2, updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrRefreshTokenNotActive
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error) {
	const query = `
		UPDATE refresh_tokens SET revoked_at = $2, updated_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, userID, at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired or were revoked before cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1 OR revoked_at < $1`
	cmd, err := database.Conn(ctx, r.db).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (models.RefreshToken, error) {
	var token models.RefreshToken
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.IPAddress,
		&token.UserAgent,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.CreatedAt,
		&token.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, ErrRefreshTokenNotFound
		}
		return models.RefreshToken{}, err
	}
	return token, nil
}
