package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/middleware"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/response"
)

func sessionBody(user *models.User, pair auth.TokenPair) gin.H {
	return gin.H{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	}
}

func handleRegister(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.UserCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		user, err := authService.Register(c.Request.Context(), auth.RegisterInput{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		pair, err := authService.Tokens().Issue(user)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": sessionBody(user, pair)})
	}
}

// handleLogin serves both the user and the admin login; they differ only in
// whether the account must hold the admin role.
func handleLogin(authService *auth.Service, admin bool) gin.HandlerFunc {
	authenticate := authService.Authenticate
	if admin {
		authenticate = authService.AuthenticateAdmin
	}
	return func(c *gin.Context) {
		var req models.UserLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		out, err := authenticate(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		if !out.Accepted {
			authRejected(c, out)
			return
		}

		pair, err := authService.Tokens().Issue(out.User)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, sessionBody(out.User, pair))
	}
}

func handleRefresh(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "NO_REFRESH_TOKEN", "Refresh token is required", nil)
			return
		}

		pair, user, err := authService.Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, sessionBody(user, pair))
	}
}

func handleGetMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, gin.H{"user": middleware.CurrentUser(c)})
	}
}

// handleLogout is a no-op on the server: sessions are stateless JWTs and the
// client drops them.
func handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Message(c, "Logged out successfully")
	}
}

func handleResetRequest(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PasswordResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			respondError(c, err)
			return
		}
		response.Message(c, "If an account with that email exists, a password reset link has been sent")
	}
}

func handleResetPassword(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PasswordResetConfirm
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if err := authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
			respondError(c, err)
			return
		}
		response.Message(c, "Password has been reset")
	}
}
