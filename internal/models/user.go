package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/lockout"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a stored credential. ResetTokenHash and ResetTokenExpiry are
// always set together or both nil.
type User struct {
	ID               uuid.UUID  `json:"userId"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	FailedAttempts   int        `json:"-"`
	LockUntil        *time.Time `json:"-"`
	ResetTokenHash   *string    `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (u *User) Lockout() lockout.Counters {
	return lockout.Counters{FailedAttempts: u.FailedAttempts, LockUntil: u.LockUntil}
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail lowercases and trims an address; emails are unique
// case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type UserCreateRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required,max=100"`
}

type UserLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type PasswordResetConfirm struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type RoleUpdateRequest struct {
	Role Role `json:"role" binding:"required,oneof=user admin"`
}
