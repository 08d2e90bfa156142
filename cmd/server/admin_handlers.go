package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/activity"
	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/middleware"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/response"
	"github.com/secure-share-hub/internal/share"
)

func handleOwnerActivities(recorder *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := recorder.ForOwner(c.Request.Context(), middleware.CurrentUser(c).ID)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"activities": events})
	}
}

// handleFileActivities lists one file's events; the file must be visible to
// the caller.
func handleFileActivities(files *share.Service, recorder *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("fileId"))
		if err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_FILE_ID", "Invalid file ID", nil)
			return
		}
		ctx := c.Request.Context()
		f, err := files.Get(ctx, id, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		events, err := recorder.ForFile(ctx, f.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"activities": events})
	}
}

type adminStats struct {
	TotalUsers      int `json:"totalUsers"`
	TotalFiles      int `json:"totalFiles"`
	ActiveLinks     int `json:"activeLinks"`
	ExpiredLinks    int `json:"expiredLinks"`
	TotalDownloads  int `json:"totalDownloads"`
	BlockedAttempts int `json:"blockedAttempts"`
}

func handleAdminStats(authService *auth.Service, files *share.Service, recorder *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var stats adminStats
		var err error

		if stats.TotalUsers, err = authService.CountUsers(ctx); err != nil {
			respondError(c, err)
			return
		}
		fs, err := files.Stats(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		stats.TotalFiles, stats.ActiveLinks, stats.ExpiredLinks = fs.TotalFiles, fs.ActiveLinks, fs.ExpiredLinks
		if stats.TotalDownloads, err = recorder.CountByType(ctx, models.EventDownloadSuccess); err != nil {
			respondError(c, err)
			return
		}
		if stats.BlockedAttempts, err = recorder.CountByType(ctx, models.EventDownloadBlocked); err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"stats": stats})
	}
}

func handleAdminUsers(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := authService.ListUsers(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"users": users})
	}
}

func handleAdminFiles(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := files.ListAll(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"files": list})
	}
}

func handleAdminActivities(recorder *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := recorder.All(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"activities": events})
	}
}

// handleChangeRole updates a user's role. Admins cannot demote themselves.
func handleChangeRole(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.Error(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user ID", nil)
			return
		}
		var req models.RoleUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		if id == middleware.CurrentUser(c).ID && req.Role != models.RoleAdmin {
			response.Error(c, http.StatusBadRequest, response.CodeValidation, "You cannot remove your own admin role", nil)
			return
		}

		user, err := authService.ChangeRole(c.Request.Context(), id, req.Role)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"user": user})
	}
}
