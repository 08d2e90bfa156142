package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/response"
	"github.com/secure-share-hub/internal/share"
	"github.com/secure-share-hub/internal/storage"
)

// respondError maps a service error to the failure envelope. Anything it
// does not recognise is attached to the context for the request log and
// answered with INTERNAL_ERROR.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		response.Error(c, http.StatusBadRequest, "USER_EXISTS", "User with this email already exists", nil)
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, share.ErrInvalidExpiry), errors.Is(err, share.ErrInvalidLimit):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidResetToken):
		response.Error(c, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired reset token", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
		response.Error(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Invalid or expired refresh token", nil)
	case errors.Is(err, auth.ErrUserNotFound):
		response.Error(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
	case errors.Is(err, share.ErrFileNotFound), errors.Is(err, storage.ErrObjectNotFound):
		response.Error(c, http.StatusNotFound, string(share.CodeFileNotFound), "File not found", nil)
	case errors.Is(err, storage.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, storage.ErrEmptyFile), errors.Is(err, storage.ErrExtensionNotAllowed),
		errors.Is(err, storage.ErrContentMismatch):
		response.Error(c, http.StatusBadRequest, "VALIDATION_FAILED", "File validation failed", gin.H{"details": []string{err.Error()}})
	case errors.Is(err, models.ErrUnavailable):
		_ = c.Error(err)
		response.Unavailable(c)
	default:
		_ = c.Error(err)
		response.Internal(c)
	}
}

func bindError(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, response.CodeValidation, "Validation failed", gin.H{"details": err.Error()})
}

// authRejected writes a rejected login outcome.
func authRejected(c *gin.Context, out auth.Outcome) {
	switch out.Code {
	case auth.CodeAccountLocked:
		response.Error(c, http.StatusLocked, string(out.Code),
			"Account is temporarily locked due to too many failed login attempts. Please try again later.",
			gin.H{"lockUntil": out.LockUntil})
	case auth.CodeInvalidAdminCredentials:
		meta := gin.H{}
		if out.RemainingAttempts != nil {
			meta["remainingAttempts"] = *out.RemainingAttempts
		}
		response.Error(c, http.StatusUnauthorized, string(out.Code), "Invalid admin credentials", meta)
	default:
		meta := gin.H{}
		if out.RemainingAttempts != nil {
			meta["remainingAttempts"] = *out.RemainingAttempts
		}
		response.Error(c, http.StatusUnauthorized, string(auth.CodeInvalidCredentials), "Invalid email or password", meta)
	}
}

var shareMessages = map[share.Code]string{
	share.CodeFileNotFound:  "File not found",
	share.CodeLinkRevoked:   "This file link has been revoked",
	share.CodeLinkExpired:   "This file link has expired",
	share.CodeLimitExceeded: "Download limit exceeded",
}

// shareRefused writes a refused Gate decision.
func shareRefused(c *gin.Context, d share.Decision) {
	response.Error(c, d.Status, string(d.Code), shareMessages[d.Code], nil)
}
