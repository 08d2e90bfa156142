package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

type errUsers struct{ err error }

func (e errUsers) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return nil, e.err
}

type errLimiter struct{}

func (errLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Error.Code
}

func newTokens() *auth.Tokens {
	return auth.NewTokens("access-secret-for-tests-0123456789", "refresh-secret-for-tests-0123456789", time.Hour, 24*time.Hour, clock.System{})
}

func protectedRouter(tokens *auth.Tokens, users UserLookup) *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(tokens, users), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString(ContextUserID), "email": CurrentUser(c).Email})
	})
	r.GET("/admin", AuthMiddleware(tokens, users), AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tokens := newTokens()
	user := &models.User{ID: uuid.New(), Email: "a@example.com", Role: models.RoleUser}
	admin := &models.User{ID: uuid.New(), Email: "root@example.com", Role: models.RoleAdmin}
	r := protectedRouter(tokens, fakeUsers{user.ID: user, admin.ID: admin})

	userPair, err := tokens.Issue(user)
	require.NoError(t, err)
	adminPair, err := tokens.Issue(admin)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		w := get(r, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
	})

	t.Run("garbage token", func(t *testing.T) {
		w := get(r, "/me", "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		w := get(r, "/me", userPair.RefreshToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := get(r, "/me", userPair.AccessToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), user.ID.String())
		assert.Contains(t, w.Body.String(), "a@example.com")
	})

	t.Run("deleted user", func(t *testing.T) {
		other := &models.User{ID: uuid.New(), Role: models.RoleUser}
		pair, err := tokens.Issue(other)
		require.NoError(t, err)
		w := get(r, "/me", pair.AccessToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("admin only", func(t *testing.T) {
		w := get(r, "/admin", userPair.AccessToken)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", errorCode(t, w))

		w = get(r, "/admin", adminPair.AccessToken)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tokens := auth.NewTokens("access-secret-for-tests-0123456789", "refresh-secret-for-tests-0123456789", time.Minute, time.Hour, clk)
	user := &models.User{ID: uuid.New(), Role: models.RoleUser}
	pair, err := tokens.Issue(user)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	w := get(protectedRouter(tokens, fakeUsers{user.ID: user}), "/me", pair.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, w))
}

func TestAuthMiddlewareStoreUnavailable(t *testing.T) {
	tokens := newTokens()
	pair, err := tokens.Issue(&models.User{ID: uuid.New(), Role: models.RoleUser})
	require.NoError(t, err)

	w := get(protectedRouter(tokens, errUsers{models.ErrUnavailable}), "/me", pair.AccessToken)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, w))
}

func TestRateLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := gin.New()
	r.GET("/x", RateLimit(ratelimit.NewMemoryLimiter(clock.System{}), "auth", 2, time.Minute, logger), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
	w := get(r, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(r, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := gin.New()
	r.GET("/x", RateLimit(errLimiter{}, "api", 1, time.Minute, logger), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(RecoveryMiddleware(logger))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := get(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
	assert.Equal(t, "panic recovered", hook.LastEntry().Message)
}

func TestLoggerMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(LoggerMiddleware(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	get(r, "/ok", "")
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request processed", entry.Message)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/ok", entry.Data["path"])
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("https://app.example.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
