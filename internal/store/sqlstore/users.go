package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/lockout"
	"github.com/secure-share-hub/internal/models"
)

type UserRepo struct{ s *Store }

const userColumns = `id, email, name, password_hash, role, failed_attempts, lock_until,
	reset_token_hash, reset_token_expiry, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		lockUntil sql.NullInt64
		resetHash sql.NullString
		resetExp  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.FailedAttempts,
		&lockUntil, &resetHash, &resetExp, &createdAt)
	if err != nil {
		return nil, classify(err)
	}
	u.LockUntil = timePtr(lockUntil)
	u.ResetTokenHash = stringPtr(resetHash)
	u.ResetTokenExpiry = timePtr(resetExp)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = models.NormalizeEmail(u.Email)

	_, err := r.s.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.FailedAttempts,
		nullMillis(u.LockUntil), u.ResetTokenHash, nullMillis(u.ResetTokenExpiry), toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, models.NormalizeEmail(email))
	return scanUser(row)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := r.s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, classify(rows.Err())
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *UserRepo) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	res, err := r.s.exec(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return requireRow(res)
}

// RecordFailedAttempt mirrors lockout.Policy.AfterFailure in one statement.
// The WHERE clause skips rows that are still locked, so a locked account
// never consumes an attempt, and concurrent failures serialize on the row.
func (r *UserRepo) RecordFailedAttempt(ctx context.Context, id uuid.UUID, now time.Time, policy lockout.Policy) (lockout.Result, error) {
	nowMs := toMillis(now)
	lockMs := toMillis(now.Add(policy.LockDuration))

	var (
		attempts  int
		lockUntil sql.NullInt64
	)
	err := r.s.queryRow(ctx, `UPDATE users SET
			failed_attempts = CASE
				WHEN lock_until IS NOT NULL AND lock_until <= ? THEN 1
				ELSE failed_attempts + 1
			END,
			lock_until = CASE
				WHEN lock_until IS NOT NULL AND lock_until <= ? THEN NULL
				WHEN failed_attempts + 1 >= ? THEN CAST(? AS BIGINT)
				ELSE NULL
			END
		WHERE id = ? AND (lock_until IS NULL OR lock_until <= ?)
		RETURNING failed_attempts, lock_until`,
		nowMs, nowMs, policy.MaxAttempts, lockMs, id, nowMs,
	).Scan(&attempts, &lockUntil)

	switch {
	case err == nil:
		return lockout.Result{
			Counters: lockout.Counters{FailedAttempts: attempts, LockUntil: timePtr(lockUntil)},
			Applied:  true,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		// Either the user is gone or the row is locked.
		u, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return lockout.Result{}, getErr
		}
		return lockout.Result{Counters: u.Lockout(), Applied: false}, nil
	default:
		return lockout.Result{}, fmt.Errorf("record failed attempt: %w", classify(err))
	}
}

// ResetFailedAttempts skips rows locked at now, so a lock set by concurrent
// failures after the caller's read survives.
func (r *UserRepo) ResetFailedAttempts(ctx context.Context, id uuid.UUID, now time.Time) (lockout.Result, error) {
	res, err := r.s.exec(ctx, `UPDATE users SET failed_attempts = 0, lock_until = NULL
		WHERE id = ? AND (lock_until IS NULL OR lock_until <= ?)`, id, toMillis(now))
	if err != nil {
		return lockout.Result{}, fmt.Errorf("reset failed attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return lockout.Result{}, classify(err)
	}
	if n == 1 {
		return lockout.Result{Applied: true}, nil
	}
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return lockout.Result{}, err
	}
	return lockout.Result{Counters: u.Lockout(), Applied: false}, nil
}

func (r *UserRepo) SetResetToken(ctx context.Context, id uuid.UUID, hash string, expiry time.Time) error {
	res, err := r.s.exec(ctx, `UPDATE users SET reset_token_hash = ?, reset_token_expiry = ? WHERE id = ?`,
		hash, toMillis(expiry), id)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return requireRow(res)
}

func (r *UserRepo) ConsumeResetToken(ctx context.Context, hash string, now time.Time, newPasswordHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.s.queryRow(ctx, `UPDATE users SET
			password_hash = ?,
			reset_token_hash = NULL,
			reset_token_expiry = NULL,
			failed_attempts = 0,
			lock_until = NULL
		WHERE reset_token_hash = ? AND reset_token_expiry > ?
		RETURNING id`,
		newPasswordHash, hash, toMillis(now),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
