package service

import (
	"context"
	"errors"
	"fmt"

	"authsvc/internal/apperr"
	"authsvc/internal/models"
	"authsvc/internal/repository"
	"authsvc/internal/security"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AdminService holds user management operations. Callers are expected to
// have passed the AdminOnly or OwnerOnly gate; the checks here cover what
// the gate cannot know, such as the target's role.
type AdminService struct {
	auth *AuthService
}

func NewAdminService(auth *AuthService) *AdminService {
	return &AdminService{auth: auth}
}

type Page struct {
	Users    []models.User
	Page     int
	PageSize int
}

func (s *AdminService) ListUsers(ctx context.Context, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	users, err := s.auth.Users.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, apperr.Internal(err)
	}
	return Page{Users: users, Page: page, PageSize: pageSize}, nil
}

// SetStatus changes a user's status. Suspending or archiving a user also
// revokes every token they hold.
func (s *AdminService) SetStatus(ctx context.Context, actor security.IdentityClaims, userID int64, status models.UserStatus) (models.User, error) {
	if !status.Valid() {
		return models.User{}, apperr.Newf(apperr.ValidationError, "Unknown status %q", status)
	}
	if actor.ID == userID {
		return models.User{}, apperr.New(apperr.Forbidden, "You cannot change your own status")
	}

	var user models.User
	err := s.auth.Tx.WithinTx(ctx, func(ctx context.Context) error {
		target, err := s.target(ctx, userID)
		if err != nil {
			return err
		}
		if target.Role == models.UserRoleOwner && actor.Role != models.UserRoleOwner {
			return apperr.New(apperr.Forbidden, "Only owners can change an owner")
		}
		if err := s.auth.Users.UpdateStatus(ctx, userID, status); err != nil {
			return apperr.Internal(fmt.Errorf("update status: %w", err))
		}
		if blocked(status) {
			if err := s.auth.revokeAll(ctx, userID); err != nil {
				return err
			}
		}
		user, err = s.target(ctx, userID)
		return err
	})
	if err != nil {
		return models.User{}, err
	}

	s.auth.Log.Info().
		Int64("actor_id", actor.ID).
		Int64("user_id", userID).
		Str("status", string(status)).
		Msg("user status changed")
	return user, nil
}

// RevokeSessions bumps the user's token version and revokes their refresh
// tokens.
func (s *AdminService) RevokeSessions(ctx context.Context, actor security.IdentityClaims, userID int64) error {
	err := s.auth.Tx.WithinTx(ctx, func(ctx context.Context) error {
		target, err := s.target(ctx, userID)
		if err != nil {
			return err
		}
		if target.Role == models.UserRoleOwner && actor.Role != models.UserRoleOwner && actor.ID != userID {
			return apperr.New(apperr.Forbidden, "Only owners can revoke an owner's sessions")
		}
		return s.auth.revokeAll(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.auth.Log.Info().Int64("actor_id", actor.ID).Int64("user_id", userID).Msg("user sessions revoked")
	return nil
}

// SetRole promotes a user to admin or demotes an admin to user. Owners are
// never changed here.
func (s *AdminService) SetRole(ctx context.Context, actor security.IdentityClaims, userID int64, role models.UserRole) (models.User, error) {
	if role != models.UserRoleAdmin && role != models.UserRoleUser {
		return models.User{}, apperr.New(apperr.ValidationError, "Role must be admin or user")
	}
	if actor.ID == userID {
		return models.User{}, apperr.New(apperr.Forbidden, "You cannot change your own role")
	}

	var user models.User
	err := s.auth.Tx.WithinTx(ctx, func(ctx context.Context) error {
		target, err := s.target(ctx, userID)
		if err != nil {
			return err
		}
		if target.Role == models.UserRoleOwner {
			return apperr.New(apperr.Forbidden, "Owners cannot be demoted")
		}
		if target.Role == role {
			user = target
			return nil
		}
		if err := s.auth.Users.UpdateRole(ctx, userID, role); err != nil {
			return apperr.Internal(fmt.Errorf("update role: %w", err))
		}
		// Outstanding access tokens carry the old role.
		if err := s.auth.revokeAll(ctx, userID); err != nil {
			return err
		}
		user, err = s.target(ctx, userID)
		return err
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *AdminService) target(ctx context.Context, userID int64) (models.User, error) {
	user, err := s.auth.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, apperr.New(apperr.NotFound, "User not found")
		}
		return models.User{}, apperr.Internal(err)
	}
	return user, nil
}
