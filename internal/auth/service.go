// Package auth authenticates users, enforces account lockout and manages
// password resets and session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/lockout"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/notify"
	"github.com/secure-share-hub/internal/token"
)

var (
	ErrUserExists        = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrWeakPassword      = errors.New("password too weak")
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token has expired")
	ErrInvalidRole       = errors.New("invalid role")
)

// Code is the client-facing reason an authentication was rejected.
type Code string

const (
	CodeInvalidCredentials      Code = "INVALID_CREDENTIALS"
	CodeAccountLocked           Code = "ACCOUNT_LOCKED"
	CodeInvalidAdminCredentials Code = "INVALID_ADMIN_CREDENTIALS"
)

// Outcome is the result of an authentication attempt. A rejection is a
// normal outcome, not an error. RemainingAttempts is only set for a wrong
// secret on an existing, unlocked account.
type Outcome struct {
	Accepted          bool
	User              *models.User
	Code              Code
	LockUntil         *time.Time
	RemainingAttempts *int
}

type Service struct {
	users  models.UserRepository
	hasher Hasher
	tokens *Tokens
	sender notify.ResetSender
	clock  clock.Clock
	policy lockout.Policy
	logger logrus.FieldLogger

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithPolicy(p lockout.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(users models.UserRepository, hasher Hasher, tokens *Tokens, sender notify.ResetSender, opts ...Option) *Service {
	s := &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		sender: sender,
		clock:  clock.System{},
		policy: lockout.DefaultPolicy,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Tokens() *Tokens {
	return s.tokens
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := CheckPasswordStrength(in.Password); err != nil {
		return nil, err
	}
	return s.createUser(ctx, in, models.RoleUser)
}

func (s *Service) createUser(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        models.NormalizeEmail(in.Email),
		Name:         in.Name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// Authenticate checks email and password under the lockout policy.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Outcome, error) {
	return s.authenticate(ctx, email, password, false)
}

// AuthenticateAdmin is Authenticate for accounts that must hold the admin
// role. A correct password on a non-admin account counts as a failure.
func (s *Service) AuthenticateAdmin(ctx context.Context, email, password string) (Outcome, error) {
	return s.authenticate(ctx, email, password, true)
}

func (s *Service) authenticate(ctx context.Context, email, password string, requireAdmin bool) (Outcome, error) {
	reject := CodeInvalidCredentials
	if requireAdmin {
		reject = CodeInvalidAdminCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.verifyDummy(password)
		return Outcome{Code: reject}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load user: %w", err)
	}

	now := s.clock.Now()
	if locked, ok := lockout.StateOf(u.Lockout(), now).(lockout.Locked); ok {
		return Outcome{Code: CodeAccountLocked, LockUntil: &locked.Until}, nil
	}

	if s.hasher.Verify(u.PasswordHash, password) && (!requireAdmin || u.IsAdmin()) {
		// The snapshot may be stale: concurrent failures can lock the account
		// after it was read, and the store refuses to clear a live lock.
		res, err := s.users.ResetFailedAttempts(ctx, u.ID, now)
		if err != nil {
			return Outcome{}, fmt.Errorf("reset failed attempts: %w", err)
		}
		if !res.Applied && lockout.IsLocked(res.Counters, now) {
			return Outcome{Code: CodeAccountLocked, LockUntil: res.Counters.LockUntil}, nil
		}
		u.FailedAttempts = 0
		u.LockUntil = nil
		return Outcome{Accepted: true, User: u}, nil
	}

	res, err := s.users.RecordFailedAttempt(ctx, u.ID, now, s.policy)
	if err != nil {
		return Outcome{}, fmt.Errorf("record failed attempt: %w", err)
	}
	if res.Counters.LockUntil != nil && lockout.IsLocked(res.Counters, now) {
		if res.Applied {
			s.logger.WithFields(logrus.Fields{
				"user_id":    u.ID,
				"attempts":   res.Counters.FailedAttempts,
				"lock_until": res.Counters.LockUntil.Format(time.RFC3339),
			}).Warn("account locked after repeated failed logins")
		}
		return Outcome{Code: CodeAccountLocked, LockUntil: res.Counters.LockUntil}, nil
	}

	remaining := s.policy.Remaining(res.Counters)
	return Outcome{Code: reject, RemainingAttempts: &remaining}, nil
}

// verifyDummy spends one hash verification so unknown emails answer in
// about the same time as known ones.
func (s *Service) verifyDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("unused-dummy-password")
		if err != nil {
			s.logger.WithError(err).Warn("failed to prepare dummy password hash")
			return
		}
		s.dummyHash = hash
	})
	s.hasher.Verify(s.dummyHash, password)
}

// Refresh exchanges a refresh token for a new token pair. The user is
// reloaded so role changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *models.User, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, err
	}
	pair, err := s.tokens.Issue(u)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, u, nil
}

// RequestPasswordReset issues a reset token for email. Unknown addresses are
// ignored so the response never reveals which emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	rt, err := token.IssueResetToken(s.clock.Now())
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	if err := s.users.SetResetToken(ctx, u.ID, rt.Hash, rt.ExpiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	if err := s.sender.SendPasswordReset(ctx, u.Email, rt.Plaintext, rt.ExpiresAt); err != nil {
		return fmt.Errorf("send reset token: %w", err)
	}
	return nil
}

// ResetPassword redeems a reset token. The token is cleared together with
// the password change and the lockout counters, so it works once.
func (s *Service) ResetPassword(ctx context.Context, plaintext, newPassword string) error {
	if err := CheckPasswordStrength(newPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	id, err := s.users.ConsumeResetToken(ctx, token.HashResetToken(plaintext), s.clock.Now(), hash)
	if errors.Is(err, models.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	s.logger.WithField("user_id", id).Info("password reset")
	return nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

func (s *Service) CountUsers(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

func (s *Service) ChangeRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// EnsureBootstrapAdmin makes sure email exists with the admin role. An
// existing account is promoted and keeps its password.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password, name string) (*models.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if u.IsAdmin() {
			return u, nil
		}
		return s.ChangeRole(ctx, u.ID, models.RoleAdmin)
	case errors.Is(err, models.ErrNotFound):
		if err := CheckPasswordStrength(password); err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		if name == "" {
			name = "Administrator"
		}
		u, err := s.createUser(ctx, RegisterInput{Email: email, Password: password, Name: name}, models.RoleAdmin)
		if err != nil {
			return nil, err
		}
		s.logger.WithField("email", u.Email).Info("bootstrap admin created")
		return u, nil
	default:
		return nil, fmt.Errorf("load bootstrap admin: %w", err)
	}
}
