package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/response"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID = "userID"
	ContextRole   = "role"
	ContextUser   = "user"
)

// UserLookup loads the account behind a verified access token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthMiddleware requires a valid Bearer access token whose user still
// exists. The role comes from the stored user, not the token.
func AuthMiddleware(tokens *auth.Tokens, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "No token provided", nil)
			return
		}

		claims, err := tokens.ParseAccess(strings.TrimSpace(raw))
		if errors.Is(err, auth.ErrTokenExpired) {
			response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", nil)
			return
		}
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
			return
		}
		id, err := uuid.Parse(claims.UserID)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), id)
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "User no longer exists", nil)
			return
		case errors.Is(err, models.ErrUnavailable):
			response.Unavailable(c)
			return
		case err != nil:
			_ = c.Error(err)
			response.Internal(c)
			return
		}

		c.Set(ContextUserID, user.ID.String())
		c.Set(ContextRole, string(user.Role))
		c.Set(ContextUser, user)
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != string(models.RoleAdmin) {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "Admin access required", nil)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleware.
func CurrentUser(c *gin.Context) *models.User {
	u, _ := c.Get(ContextUser)
	user, _ := u.(*models.User)
	return user
}

func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, Content-Disposition, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		c.Header("Access-Control-Max-Age", "86400")
		if origin != "*" {
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
