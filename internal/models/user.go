package models

import "time"

type UserRole string

const (
	UserRoleOwner      UserRole = "owner"
	UserRoleAdmin      UserRole = "admin"
	UserRoleUser       UserRole = "user"
	UserRoleEnterprise UserRole = "enterprise"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleOwner, UserRoleAdmin, UserRoleUser, UserRoleEnterprise:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusNew       UserStatus = "new"
	UserStatusVerified  UserStatus = "verified"
	UserStatusTrial     UserStatus = "trial"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusArchived  UserStatus = "archived"
	UserStatusPending   UserStatus = "pending"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusNew, UserStatusVerified, UserStatusTrial, UserStatusActive,
		UserStatusSuspended, UserStatusArchived, UserStatusPending:
		return true
	}
	return false
}

// StatusPredicate decides whether a user status may pass an auth gate.
type StatusPredicate func(UserStatus) bool

// RolePredicate decides whether a role may pass an auth gate.
type RolePredicate func(UserRole) bool

// IsActive accepts verified, trial and active users.
func IsActive(s UserStatus) bool {
	return s == UserStatusVerified || s == UserStatusTrial || s == UserStatusActive
}

// IsNewOrActive additionally accepts users who have not verified their email yet.
func IsNewOrActive(s UserStatus) bool {
	return s == UserStatusNew || IsActive(s)
}

func IsActiveOnly(s UserStatus) bool {
	return s == UserStatusActive
}

func AnyRole(UserRole) bool { return true }

func IsAdmin(r UserRole) bool {
	return r == UserRoleAdmin || r == UserRoleOwner
}

func IsOwner(r UserRole) bool {
	return r == UserRoleOwner
}

type User struct {
	ID           int64
	FirstName    string
	LastName     *string
	Email        string
	PasswordHash string
	Role         UserRole
	Status       UserStatus
	TokenVersion int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate carries the user-editable profile fields. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil
}

type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}
