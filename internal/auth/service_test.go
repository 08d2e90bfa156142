package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/lockout"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/store/memory"
)

const goodPassword = "Correct#Horse9"

type captureSender struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *captureSender) SendPasswordReset(ctx context.Context, toEmail, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}
	c.tokens[toEmail] = token
	return nil
}

type fixture struct {
	svc    *Service
	users  *memory.UserRepo
	clock  *clock.Mock
	sender *captureSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clk := clock.NewMock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	users := memory.New().Users()
	sender := &captureSender{}
	tokens := NewTokens("access-secret-0123456789abcdef0123", "refresh-secret-0123456789abcdef012", time.Hour, 24*time.Hour, clk)
	svc := NewService(users, BcryptHasher{Cost: bcrypt.MinCost}, tokens, sender,
		WithClock(clk), WithLogger(logger))
	return &fixture{svc: svc, users: users, clock: clk, sender: sender}
}

func (f *fixture) register(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: goodPassword, Name: "Alice"})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "Alice@Example.com")
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotEqual(t, goodPassword, u.PasswordHash)

	_, err := f.svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: goodPassword, Name: "B"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "b@example.com", Password: "weak", Name: "B"})
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Authenticate(context.Background(), "ghost@example.com", goodPassword)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, CodeInvalidCredentials, out.Code)
	assert.Nil(t, out.RemainingAttempts)
}

func TestAuthenticateRemainingAttempts(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")
	ctx := context.Background()

	for n := 1; n < lockout.MaxAttempts; n++ {
		out, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
		require.NoError(t, err)
		assert.Equal(t, CodeInvalidCredentials, out.Code)
		require.NotNil(t, out.RemainingAttempts)
		assert.Equal(t, lockout.MaxAttempts-n, *out.RemainingAttempts)
	}

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.FailedAttempts)
	assert.Nil(t, got.LockUntil)
}

func TestAuthenticateFifthFailureLocks(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.users.RecordFailedAttempt(ctx, u.ID, f.clock.Now(), lockout.DefaultPolicy)
		require.NoError(t, err)
	}

	out, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, CodeAccountLocked, out.Code)
	require.NotNil(t, out.LockUntil)
	assert.WithinDuration(t, f.clock.Now().Add(15*time.Minute), *out.LockUntil, time.Second)

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedAttempts)

	// Correct password while locked: rejected, no attempt consumed.
	f.clock.Advance(time.Minute)
	out, err = f.svc.Authenticate(ctx, "a@x.com", goodPassword)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, CodeAccountLocked, out.Code)

	got, err = f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedAttempts)
}

func TestAuthenticateLazyExpiry(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")
	ctx := context.Background()
	for i := 0; i < lockout.MaxAttempts; i++ {
		_, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
		require.NoError(t, err)
	}

	f.clock.Advance(lockout.LockDuration + time.Second)
	out, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidCredentials, out.Code)
	require.NotNil(t, out.RemainingAttempts)
	assert.Equal(t, lockout.MaxAttempts-1, *out.RemainingAttempts)
}

func TestAuthenticateSuccessResetsCounters(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
		require.NoError(t, err)
	}

	out, err := f.svc.Authenticate(ctx, "A@X.com", goodPassword)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, u.ID, out.User.ID)

	got, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedAttempts)
}

func TestAuthenticateAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "user@x.com")
	admin, err := f.svc.EnsureBootstrapAdmin(ctx, "root@x.com", goodPassword, "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	out, err := f.svc.AuthenticateAdmin(ctx, "root@x.com", goodPassword)
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	// Role mismatch is rejected like a wrong password and counts as one.
	out, err = f.svc.AuthenticateAdmin(ctx, "user@x.com", goodPassword)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, CodeInvalidAdminCredentials, out.Code)
	require.NotNil(t, out.RemainingAttempts)
	assert.Equal(t, lockout.MaxAttempts-1, *out.RemainingAttempts)

	out, err = f.svc.AuthenticateAdmin(ctx, "ghost@x.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidAdminCredentials, out.Code)
	assert.Nil(t, out.RemainingAttempts)
}

func TestEnsureBootstrapAdminPromotesExisting(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")

	got, err := f.svc.EnsureBootstrapAdmin(context.Background(), "a@x.com", "ignored", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, models.RoleAdmin, got.Role)
}

func TestAuthenticateConcurrentFailuresLockExactlyOnce(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Authenticate(context.Background(), "a@x.com", "wrong")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, lockout.MaxAttempts, got.FailedAttempts)
	assert.NotNil(t, got.LockUntil)
}

// lockingUsers lets failed attempts from other requests lock the account
// right after the first lookup returns its snapshot.
type lockingUsers struct {
	*memory.UserRepo
	clock *clock.Mock
	once  sync.Once
}

func (r *lockingUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := r.UserRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		for i := 0; i < lockout.MaxAttempts; i++ {
			_, err := r.UserRepo.RecordFailedAttempt(ctx, u.ID, r.clock.Now(), lockout.DefaultPolicy)
			if err != nil {
				panic(err)
			}
		}
	})
	return u, nil
}

func TestAuthenticateSuccessKeepsConcurrentLock(t *testing.T) {
	for _, prior := range []int{0, 2} {
		f := newFixture(t)
		u := f.register(t, "a@x.com")
		ctx := context.Background()
		for i := 0; i < prior; i++ {
			_, err := f.users.RecordFailedAttempt(ctx, u.ID, f.clock.Now(), lockout.DefaultPolicy)
			require.NoError(t, err)
		}

		users := &lockingUsers{UserRepo: f.users, clock: f.clock}
		svc := NewService(users, BcryptHasher{Cost: bcrypt.MinCost}, f.svc.Tokens(), f.sender,
			WithClock(f.clock), WithLogger(f.svc.logger))

		out, err := svc.Authenticate(ctx, "a@x.com", goodPassword)
		require.NoError(t, err)
		assert.False(t, out.Accepted, "prior=%d", prior)
		assert.Equal(t, CodeAccountLocked, out.Code)
		require.NotNil(t, out.LockUntil)

		got, err := f.users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LockUntil)
		assert.True(t, got.LockUntil.Equal(*out.LockUntil))
		assert.GreaterOrEqual(t, got.FailedAttempts, lockout.MaxAttempts)
	}
}

type countingHasher struct {
	Hasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(encoded, password string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.Hasher.Verify(encoded, password)
}

func TestAuthenticateUnknownEmailStillVerifies(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")
	hasher := &countingHasher{Hasher: BcryptHasher{Cost: bcrypt.MinCost}}
	svc := NewService(f.users, hasher, f.svc.Tokens(), f.sender, WithClock(f.clock), WithLogger(f.svc.logger))
	ctx := context.Background()

	out, err := svc.Authenticate(ctx, "ghost@example.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidCredentials, out.Code)
	assert.Equal(t, 1, hasher.verifies)

	_, err = svc.Authenticate(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, 2, hasher.verifies)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")
	ctx := context.Background()
	for i := 0; i < lockout.MaxAttempts; i++ {
		_, err := f.svc.Authenticate(ctx, "a@x.com", "wrong")
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))
	plaintext := f.sender.tokens["a@x.com"]
	require.NotEmpty(t, plaintext)

	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetTokenHash)
	assert.NotEqual(t, plaintext, *stored.ResetTokenHash)

	const newPassword = "Brand-New-Pass1"
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, plaintext, "short"), ErrWeakPassword)
	require.NoError(t, f.svc.ResetPassword(ctx, plaintext, newPassword))

	stored, err = f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockUntil)
	assert.Nil(t, stored.ResetTokenHash)

	out, err := f.svc.Authenticate(ctx, "a@x.com", newPassword)
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	// Single use.
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, plaintext, "Another-Pass2"), ErrInvalidResetToken)
}

func TestPasswordResetExpires(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com")
	ctx := context.Background()

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@x.com"))
	plaintext := f.sender.tokens["a@x.com"]

	f.clock.Advance(time.Hour)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, plaintext, "Brand-New-Pass1"), ErrInvalidResetToken)
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ghost@x.com"))
	assert.Empty(t, f.sender.tokens)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@x.com")
	ctx := context.Background()

	pair, err := f.svc.Tokens().Issue(u)
	require.NoError(t, err)

	_, err = f.svc.ChangeRole(ctx, u.ID, models.RoleAdmin)
	require.NoError(t, err)

	next, got, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	claims, err := f.svc.Tokens().ParseAccess(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, _, err = f.svc.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
