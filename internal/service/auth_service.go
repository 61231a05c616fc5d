package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"authsvc/internal/apperr"
	"authsvc/internal/clock"
	"authsvc/internal/models"
	"authsvc/internal/repository"
	"authsvc/internal/security"
	"authsvc/internal/securitytoken"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateStatus(ctx context.Context, id int64, status models.UserStatus) error
	UpdateRole(ctx context.Context, id int64, role models.UserRole) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	IncrementTokenVersion(ctx context.Context, id int64) (int, error)
	UpdateProfile(ctx context.Context, id int64, update models.ProfileUpdate) (models.User, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (models.RefreshToken, error)
	ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]models.RefreshToken, error)
	Revoke(ctx context.Context, id int64, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)
}

type SecurityTokens interface {
	Issue(ctx context.Context, userID int64, tokenType models.TokenType, opts ...securitytoken.IssueOption) (string, error)
	Consume(ctx context.Context, raw string, expected models.TokenType) (models.SecurityToken, error)
}

type AccessTokenIssuer interface {
	Issue(claims security.IdentityClaims) (string, error)
	TTL() time.Duration
}

type Mailer interface {
	SendWelcome(ctx context.Context, user models.User, verificationToken string) error
	SendEmailVerification(ctx context.Context, user models.User, token string) error
	SendPasswordReset(ctx context.Context, user models.User, token string) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Metrics interface {
	RecordAuthEvent(event, outcome string)
}

type Deps struct {
	Users          UserStore
	RefreshTokens  RefreshTokenStore
	SecurityTokens SecurityTokens
	AccessTokens   AccessTokenIssuer
	Mailer         Mailer
	Tx             Transactor
	Clock          clock.Clock
	Metrics        Metrics
	Log            zerolog.Logger
}

type Options struct {
	RefreshTTL        time.Duration
	RefreshTokenBytes int
}

type AuthService struct {
	Deps
	opts Options
}

func NewAuthService(deps Deps, opts Options) *AuthService {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthService{Deps: deps, opts: opts}
}

// Client describes where a request came from. It is stored with refresh
// tokens.
type Client struct {
	IPAddress string
	UserAgent string
}

type AuthResult struct {
	User             models.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type SignupInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

func (s *AuthService) Signup(ctx context.Context, input SignupInput, client Client) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	if err := input.Validate(); err != nil {
		return AuthResult{}, invalid(err)
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	user := models.User{
		FirstName:    input.FirstName,
		Email:        input.Email,
		PasswordHash: passwordHash,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusNew,
	}
	if input.LastName != "" {
		lastName := input.LastName
		user.LastName = &lastName
	}

	var verification string
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Users.Create(ctx, &user); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return apperr.New(apperr.EmailAlreadyInUse, "")
			}
			return apperr.Internal(fmt.Errorf("create user: %w", err))
		}
		token, err := s.SecurityTokens.Issue(ctx, user.ID, models.TokenTypeEmailVerification)
		if err != nil {
			return err
		}
		verification = token
		return nil
	})
	if err != nil {
		s.record("signup", err)
		return AuthResult{}, err
	}

	if err := s.Mailer.SendWelcome(ctx, user, verification); err != nil {
		s.Log.Error().Err(err).Int64("user_id", user.ID).Msg("enqueue welcome email failed")
	}

	result, err := s.startSession(ctx, user, client)
	s.record("signup", err)
	return result, err
}

type LoginInput struct {
	Email    string
	Password string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput, client Client) (AuthResult, error) {
	result, err := s.login(ctx, input, client)
	s.record("login", err)
	return result, err
}

func (s *AuthService) login(ctx context.Context, input LoginInput, client Client) (AuthResult, error) {
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, apperr.New(apperr.ValidationError, "Email and password are required")
	}

	user, err := s.Users.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, apperr.New(apperr.InvalidCredentials, "")
		}
		return AuthResult{}, apperr.Internal(err)
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		s.Log.Error().Err(err).Int64("user_id", user.ID).Msg("stored password hash unreadable")
		return AuthResult{}, apperr.New(apperr.InvalidCredentials, "")
	}
	if !ok {
		return AuthResult{}, apperr.New(apperr.InvalidCredentials, "")
	}

	if blocked(user.Status) {
		return AuthResult{}, apperr.New(apperr.Forbidden, "Account is disabled")
	}

	return s.startSession(ctx, user, client)
}

// VerifyEmail consumes an email verification token and marks the user
// verified in the same transaction.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, client Client) (AuthResult, error) {
	var user models.User
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.SecurityTokens.Consume(ctx, token, models.TokenTypeEmailVerification)
		if err != nil {
			return err
		}
		user, err = s.Users.GetByID(ctx, record.UserID)
		if err != nil {
			return apperr.Internal(fmt.Errorf("load user: %w", err))
		}
		if user.Status != models.UserStatusNew {
			return nil
		}
		if err := s.Users.UpdateStatus(ctx, user.ID, models.UserStatusVerified); err != nil {
			return apperr.Internal(fmt.Errorf("update status: %w", err))
		}
		user.Status = models.UserStatusVerified
		return nil
	})
	if err != nil {
		s.record("verify_email", err)
		return AuthResult{}, err
	}

	result, err := s.startSession(ctx, user, client)
	s.record("verify_email", err)
	return result, err
}

// ResendVerification never reports whether the address is registered.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return invalid(err)
	}

	user, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if user.Status != models.UserStatusNew {
		return nil
	}

	token, err := s.SecurityTokens.Issue(ctx, user.ID, models.TokenTypeEmailVerification)
	if err != nil {
		return err
	}
	if err := s.Mailer.SendEmailVerification(ctx, user, token); err != nil {
		s.Log.Error().Err(err).Int64("user_id", user.ID).Msg("enqueue verification email failed")
	}
	s.record("resend_verification", nil)
	return nil
}

// RequestPasswordReset never reports whether the address is registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return invalid(err)
	}

	user, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if !models.IsActive(user.Status) {
		s.Log.Info().Int64("user_id", user.ID).Str("status", string(user.Status)).Msg("password reset skipped for inactive user")
		return nil
	}

	token, err := s.SecurityTokens.Issue(ctx, user.ID, models.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	if err := s.Mailer.SendPasswordReset(ctx, user, token); err != nil {
		s.Log.Error().Err(err).Int64("user_id", user.ID).Msg("enqueue password reset email failed")
	}
	s.record("password_reset_request", nil)
	return nil
}

// ResetPassword consumes a reset token, stores the new password, bumps the
// token version and revokes every refresh token, all in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string, client Client) (AuthResult, error) {
	if err := validatePassword(password); err != nil {
		return AuthResult{}, invalid(err)
	}
	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	var user models.User
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.SecurityTokens.Consume(ctx, token, models.TokenTypePasswordReset)
		if err != nil {
			return err
		}
		if err := s.Users.UpdatePassword(ctx, record.UserID, passwordHash); err != nil {
			return apperr.Internal(fmt.Errorf("update password: %w", err))
		}
		if err := s.revokeAll(ctx, record.UserID); err != nil {
			return err
		}
		user, err = s.Users.GetByID(ctx, record.UserID)
		if err != nil {
			return apperr.Internal(fmt.Errorf("load user: %w", err))
		}
		return nil
	})
	if err != nil {
		s.record("password_reset", err)
		return AuthResult{}, err
	}

	result, err := s.startSession(ctx, user, client)
	s.record("password_reset", err)
	return result, err
}

// Refresh rotates a refresh token. The replacement is stored before the old
// token is revoked, inside one transaction.
func (s *AuthService) Refresh(ctx context.Context, raw string, client Client) (AuthResult, error) {
	result, err := s.refresh(ctx, raw, client)
	s.record("refresh", err)
	return result, err
}

func (s *AuthService) refresh(ctx context.Context, raw string, client Client) (AuthResult, error) {
	if raw == "" {
		return AuthResult{}, apperr.New(apperr.MissingRefreshToken, "")
	}

	current, err := s.RefreshTokens.FindByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return AuthResult{}, apperr.New(apperr.InvalidRefreshToken, "")
		}
		return AuthResult{}, apperr.Internal(err)
	}

	now := s.Clock.Now()
	if current.Revoked() {
		s.Log.Warn().Int64("user_id", current.UserID).Int64("refresh_token_id", current.ID).Msg("revoked refresh token presented")
		return AuthResult{}, apperr.New(apperr.RefreshTokenRevoked, "")
	}
	if now.After(current.ExpiresAt) {
		return AuthResult{}, apperr.New(apperr.RefreshTokenExpired, "")
	}

	user, err := s.Users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, apperr.New(apperr.InvalidRefreshToken, "")
		}
		return AuthResult{}, apperr.Internal(err)
	}
	if blocked(user.Status) {
		return AuthResult{}, apperr.New(apperr.Forbidden, "Account is disabled")
	}

	if current.IPAddress != client.IPAddress || current.UserAgent != client.UserAgent {
		s.Log.Info().
			Int64("user_id", user.ID).
			Str("previous_ip", current.IPAddress).
			Str("ip", client.IPAddress).
			Msg("refresh token used from a different device")
	}

	var result AuthResult
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		next, err := s.createRefreshToken(ctx, user.ID, client)
		if err != nil {
			return err
		}
		if err := s.RefreshTokens.Revoke(ctx, current.ID, now); err != nil {
			// A concurrent refresh rotated this token first.
			if errors.Is(err, repository.ErrRefreshTokenNotActive) {
				return apperr.New(apperr.RefreshTokenRevoked, "")
			}
			return apperr.Internal(fmt.Errorf("revoke refresh token: %w", err))
		}
		result = next
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}

	return s.withAccessToken(user, result)
}

// Logout revokes the refresh token if it is known. Unknown tokens are
// ignored.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	current, err := s.RefreshTokens.FindByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return apperr.Internal(err)
	}
	if current.Revoked() {
		return nil
	}
	err = s.RefreshTokens.Revoke(ctx, current.ID, s.Clock.Now())
	if err != nil && !errors.Is(err, repository.ErrRefreshTokenNotActive) {
		return apperr.Internal(err)
	}
	s.record("logout", nil)
	return nil
}

// LogoutAll invalidates every access and refresh token of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.revokeAll(ctx, userID)
	})
	s.record("logout_all", err)
	return err
}

func (s *AuthService) Me(ctx context.Context, userID int64) (models.User, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, apperr.New(apperr.NotFound, "User not found")
		}
		return models.User{}, apperr.Internal(err)
	}
	return user, nil
}

// UpdateMe changes the caller's profile. Blank fields are ignored; a request
// with nothing to change returns the current user.
func (s *AuthService) UpdateMe(ctx context.Context, userID int64, in UpdateProfileInput) (models.User, error) {
	in = in.trimmed()
	if err := in.Validate(); err != nil {
		return models.User{}, invalid(err)
	}

	var update models.ProfileUpdate
	if in.FirstName != "" {
		update.FirstName = &in.FirstName
	}
	if in.LastName != "" {
		update.LastName = &in.LastName
	}
	if update.Empty() {
		return s.Me(ctx, userID)
	}

	user, err := s.Users.UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			err = apperr.New(apperr.NotFound, "User not found")
		} else {
			err = apperr.Internal(fmt.Errorf("update profile: %w", err))
		}
	}
	s.record("update_profile", err)
	return user, err
}

func (s *AuthService) ListSessions(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	sessions, err := s.RefreshTokens.ListActiveByUser(ctx, userID, s.Clock.Now())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return sessions, nil
}

func (s *AuthService) revokeAll(ctx context.Context, userID int64) error {
	if _, err := s.Users.IncrementTokenVersion(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.New(apperr.NotFound, "User not found")
		}
		return apperr.Internal(fmt.Errorf("increment token version: %w", err))
	}
	if _, err := s.RefreshTokens.RevokeAllForUser(ctx, userID, s.Clock.Now()); err != nil {
		return apperr.Internal(fmt.Errorf("revoke refresh tokens: %w", err))
	}
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user models.User, client Client) (AuthResult, error) {
	result, err := s.createRefreshToken(ctx, user.ID, client)
	if err != nil {
		return AuthResult{}, err
	}
	return s.withAccessToken(user, result)
}

func (s *AuthService) createRefreshToken(ctx context.Context, userID int64, client Client) (AuthResult, error) {
	raw, hash, err := security.GenerateRefreshToken(s.opts.RefreshTokenBytes)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	token := models.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		ExpiresAt: s.Clock.Now().Add(s.opts.RefreshTTL),
	}
	if err := s.RefreshTokens.Create(ctx, &token); err != nil {
		return AuthResult{}, apperr.Internal(fmt.Errorf("create refresh token: %w", err))
	}
	return AuthResult{RefreshToken: raw, RefreshExpiresAt: token.ExpiresAt}, nil
}

func (s *AuthService) withAccessToken(user models.User, result AuthResult) (AuthResult, error) {
	access, err := s.AccessTokens.Issue(security.ClaimsForUser(user))
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	result.User = user
	result.AccessToken = access
	result.AccessExpiresAt = s.Clock.Now().Add(s.AccessTokens.TTL())
	return result, nil
}

func (s *AuthService) record(event string, err error) {
	if s.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	s.Metrics.RecordAuthEvent(event, outcome)
}

func blocked(status models.UserStatus) bool {
	return status == models.UserStatusSuspended || status == models.UserStatusArchived
}
