// Package securitytoken issues and consumes single-use emailed tokens such
// as email verification and password reset links.
package securitytoken

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
)

type Repository interface {
	LockOwner(ctx context.Context, userID int64) error
	DeprecatePending(ctx context.Context, userID int64, tokenType models.TokenType) (int64, error)
	Create(ctx context.Context, token *models.SecurityToken) error
	FindByHash(ctx context.Context, hash string) (models.SecurityToken, error)
	UpdateStatus(ctx context.Context, id int64, status models.TokenStatus, usedAt *time.Time) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Metrics interface {
	RecordSecurityTokenIssued(tokenType string)
}

// Policy controls tokens of one type.
type Policy struct {
	TTL   time.Duration
	Bytes int
}

func DefaultPolicies() map[models.TokenType]Policy {
	return map[models.TokenType]Policy{
		models.TokenTypeEmailVerification: {TTL: 48 * time.Hour, Bytes: security.SecurityTokenBytes},
		models.TokenTypePasswordReset:     {TTL: time.Hour, Bytes: security.SecurityTokenBytes},
	}
}

type Service struct {
	repo     Repository
	tx       Transactor
	clock    clock.Clock
	policies map[models.TokenType]Policy
	metrics  Metrics
	log      zerolog.Logger
}

func NewService(repo Repository, tx Transactor, clk clock.Clock, policies map[models.TokenType]Policy, metrics Metrics, log zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		clock:    clk,
		policies: policies,
		metrics:  metrics,
		log:      log,
	}
}

type issueOptions struct {
	metadata map[string]any
}

type IssueOption func(*issueOptions)

func WithMetadata(metadata map[string]any) IssueOption {
	return func(o *issueOptions) { o.metadata = metadata }
}

// Issue creates a new pending token for the user and deprecates every
// earlier pending token of the same type in the same transaction. The raw
// token is returned once and never stored.
func (s *Service) Issue(ctx context.Context, userID int64, tokenType models.TokenType, opts ...IssueOption) (string, error) {
	policy, ok := s.policies[tokenType]
	if !ok {
		return "", apperr.Newf(apperr.ValidationError, "unsupported token type %q", tokenType)
	}

	var o issueOptions
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := security.GenerateSecurityToken(policy.Bytes)
	if err != nil {
		return "", apperr.Internal(err)
	}

	record := models.SecurityToken{
		UserID:    userID,
		Type:      tokenType,
		Status:    models.TokenStatusPending,
		TokenHash: security.HashToken(raw),
		ExpiresAt: s.clock.Now().Add(policy.TTL),
		Metadata:  o.metadata,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockOwner(ctx, userID); err != nil {
			return err
		}
		deprecated, err := s.repo.DeprecatePending(ctx, userID, tokenType)
		if err != nil {
			return err
		}
		if deprecated > 0 {
			s.log.Debug().
				Int64("user_id", userID).
				Str("type", string(tokenType)).
				Int64("deprecated", deprecated).
				Msg("deprecated pending security tokens")
		}
		return s.repo.Create(ctx, &record)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", apperr.Wrap(err, apperr.NotFound, "User not found")
		}
		return "", apperr.Internal(fmt.Errorf("issue security token: %w", err))
	}

	if s.metrics != nil {
		s.metrics.RecordSecurityTokenIssued(string(tokenType))
	}
	return raw, nil
}

// Check looks up the raw token and validates it without changing it.
func (s *Service) Check(ctx context.Context, raw string, expected models.TokenType) (models.SecurityToken, error) {
	if raw == "" {
		return models.SecurityToken{}, apperr.New(apperr.TokenNotFound, "")
	}

	record, err := s.repo.FindByHash(ctx, security.HashToken(raw))
	switch {
	case errors.Is(err, repository.ErrSecurityTokenNotFound):
		return Validate(nil, expected, s.clock.Now())
	case err != nil:
		return models.SecurityToken{}, apperr.Internal(fmt.Errorf("find security token: %w", err))
	}
	return Validate(&record, expected, s.clock.Now())
}

// Consume validates the token and marks it used. When ctx carries a
// transaction the state change joins it, so callers can bundle it with
// their own writes. Of two concurrent consumers exactly one succeeds; the
// other gets TokenAlreadyUsed.
func (s *Service) Consume(ctx context.Context, raw string, expected models.TokenType) (models.SecurityToken, error) {
	var consumed models.SecurityToken
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.Check(ctx, raw, expected)
		if err != nil {
			return err
		}

		usedAt := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, record.ID, models.TokenStatusUsed, &usedAt); err != nil {
			if errors.Is(err, repository.ErrSecurityTokenNotPending) {
				return apperr.New(apperr.TokenAlreadyUsed, "")
			}
			return apperr.Internal(fmt.Errorf("mark security token used: %w", err))
		}

		record.Status = models.TokenStatusUsed
		record.UsedAt = &usedAt
		consumed = record
		return nil
	})
	if err != nil {
		return models.SecurityToken{}, err
	}
	return consumed, nil
}
