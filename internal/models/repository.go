package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/lockout"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrUnavailable marks a transient store failure; callers may retry.
	ErrUnavailable = errors.New("store unavailable")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error

	// RecordFailedAttempt applies policy.AfterFailure atomically in the
	// store. Applied is false when the account was locked at now.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, now time.Time, policy lockout.Policy) (lockout.Result, error)
	// ResetFailedAttempts clears the counters unless the account is locked
	// at now. Applied is false, with the stored counters, when it is.
	ResetFailedAttempts(ctx context.Context, id uuid.UUID, now time.Time) (lockout.Result, error)

	SetResetToken(ctx context.Context, id uuid.UUID, hash string, expiry time.Time) error
	// ConsumeResetToken swaps in newPasswordHash, clears the reset token and
	// the lockout counters in one update. ErrNotFound when no unexpired
	// token matches hash.
	ConsumeResetToken(ctx context.Context, hash string, now time.Time, newPasswordHash string) (uuid.UUID, error)
}

type FileRepository interface {
	Create(ctx context.Context, f *FileRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*FileRecord, error)
	GetByAccessToken(ctx context.Context, token string) (*FileRecord, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]FileRecord, error)
	ListAll(ctx context.Context) ([]FileRecord, error)

	// ConsumeDownload increments UsedDownloads iff the share is active,
	// unexpired at now and under its cap. It reports whether a slot was taken.
	ConsumeDownload(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Revoke moves an active share to revoked and reports whether it changed.
	Revoke(ctx context.Context, id uuid.UUID) (bool, error)
	// RotateToken installs a new token and window, reactivates the share and
	// resets UsedDownloads. ErrConflict if the token is already taken.
	RotateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context, now time.Time) (FileStats, error)
}

type ActivityRepository interface {
	Append(ctx context.Context, e *ActivityEvent) error
	ListByFile(ctx context.Context, fileID uuid.UUID, limit int) ([]ActivityEvent, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]ActivityEvent, error)
	ListAll(ctx context.Context, limit int) ([]ActivityEvent, error)
	CountByType(ctx context.Context, t EventType) (int, error)
	DeleteByFile(ctx context.Context, fileID uuid.UUID) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
