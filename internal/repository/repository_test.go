package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/database"
	"authsvc/internal/models"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestUserCreateReturnsGeneratedFields(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("Ada", (*string)(nil), "ada@example.com", "hash", "user", "new").
		WillReturnRows(pgxmock.NewRows([]string{"id", "token_version", "created_at", "updated_at"}).
			AddRow(int64(7), 1, now, now))

	user := models.User{
		FirstName:    "Ada",
		Email:        "ada@example.com",
		PasswordHash: "hash",
		Role:         models.UserRoleUser,
		Status:       models.UserStatusNew,
	}
	require.NoError(t, repo.Create(context.Background(), &user))
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, 1, user.TokenVersion)
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.User{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserGetByIDNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT .* FROM users WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIncrementTokenVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("UPDATE users SET token_version = token_version \\+ 1").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"token_version"}).AddRow(5))

	version, err := repo.IncrementTokenVersion(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestUpdateStatusMissingUser(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("UPDATE users SET status").
		WithArgs(int64(3), "verified").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateStatus(context.Background(), 3, models.UserStatusVerified)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfileKeepsNilFields(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	now := time.Now()
	first := "Ada"

	mock.ExpectQuery("UPDATE users\\s+SET first_name = COALESCE\\(\\$2, first_name\\)").
		WithArgs(int64(4), &first, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "first_name", "last_name", "email", "password_hash", "role", "status", "token_version", "created_at", "updated_at",
		}).AddRow(int64(4), "Ada", (*string)(nil), "ada@example.com", "hash", models.UserRoleUser, models.UserStatusActive, 2, now, now))

	user, err := repo.UpdateProfile(context.Background(), 4, models.ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Nil(t, user.LastName)
}

func TestUpdateProfileMissingUser(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("UPDATE users").
		WithArgs(int64(9), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateProfile(context.Background(), 9, models.ProfileUpdate{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSecurityTokenFindByHashNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewSecurityTokenRepository(mock)

	mock.ExpectQuery("SELECT .* FROM security_tokens WHERE token_hash = \\$1").
		WithArgs("digest").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByHash(context.Background(), "digest")
	assert.ErrorIs(t, err, ErrSecurityTokenNotFound)
}

func TestSecurityTokenUpdateStatusOnlyFromPending(t *testing.T) {
	mock := newMock(t)
	repo := NewSecurityTokenRepository(mock)
	usedAt := time.Now()

	mock.ExpectExec("UPDATE security_tokens").
		WithArgs(int64(1), "used", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE security_tokens").
		WithArgs(int64(1), "used", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdateStatus(context.Background(), 1, models.TokenStatusUsed, &usedAt))
	err := repo.UpdateStatus(context.Background(), 1, models.TokenStatusUsed, &usedAt)
	assert.ErrorIs(t, err, ErrSecurityTokenNotPending)
}

func TestIssueStatementsShareAmbientTransaction(t *testing.T) {
	mock := newMock(t)
	repo := NewSecurityTokenRepository(mock)
	tx := database.NewTransactor(mock)
	expires := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec("UPDATE security_tokens\\s+SET status = 'deprecated'").
		WithArgs(int64(4), "password_reset").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectQuery("INSERT INTO security_tokens").
		WithArgs(int64(4), "password_reset", "pending", "digest", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))
	mock.ExpectCommit()

	token := models.SecurityToken{
		UserID:    4,
		Type:      models.TokenTypePasswordReset,
		Status:    models.TokenStatusPending,
		TokenHash: "digest",
		ExpiresAt: expires,
	}
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if err := repo.LockOwner(ctx, 4); err != nil {
			return err
		}
		n, err := repo.DeprecatePending(ctx, 4, models.TokenTypePasswordReset)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), n)
		return repo.Create(ctx, &token)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), token.ID)
}

func TestRefreshTokenRevokeAll(t *testing.T) {
	mock := newMock(t)
	repo := NewRefreshTokenRepository(mock)
	at := time.Now()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WithArgs(int64(2), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.RevokeAllForUser(context.Background(), 2, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRefreshTokenRevokeReportsLostRace(t *testing.T) {
	mock := newMock(t)
	repo := NewRefreshTokenRepository(mock)
	at := time.Now()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WithArgs(int64(7), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WithArgs(int64(7), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Revoke(context.Background(), 7, at))
	assert.ErrorIs(t, repo.Revoke(context.Background(), 7, at), ErrRefreshTokenNotActive)
}
