package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/activity"
	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/config"
	"github.com/secure-share-hub/internal/middleware"
	"github.com/secure-share-hub/internal/ratelimit"
	"github.com/secure-share-hub/internal/share"
	"github.com/secure-share-hub/internal/storage"
)

// healthCheck pings one dependency.
type healthCheck func(ctx context.Context) error

// app holds everything the HTTP layer needs.
type app struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	auth     *auth.Service
	files    *share.Service
	gate     *share.Gate
	activity *activity.Recorder
	blobs    storage.BlobStore
	limiter  ratelimit.Limiter
	checks   map[string]healthCheck
}

// limit returns a per-IP rate limiter for one route group, or a pass-through
// when rate limiting is off.
func (a *app) limit(name string, max int) gin.HandlerFunc {
	if !a.cfg.RateLimit.Enabled || a.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(a.limiter, name, max, a.cfg.RateLimit.Window, a.logger)
}

func newRouter(a *app) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	if a.cfg.App.EnableCORS {
		router.Use(middleware.CORSMiddleware(a.cfg.App.CORSOrigin))
	}

	router.GET("/health", handleHealth(a.checks))

	authn := middleware.AuthMiddleware(a.auth.Tokens(), a.auth)
	api := router.Group("/api", a.limit("api", a.cfg.RateLimit.APIMax))

	authGroup := api.Group("/auth")
	{
		strict := a.limit("auth", a.cfg.RateLimit.AuthMax)
		authGroup.POST("/register", strict, handleRegister(a.auth))
		authGroup.POST("/login", strict, handleLogin(a.auth, false))
		authGroup.POST("/admin/login", strict, handleLogin(a.auth, true))
		authGroup.POST("/refresh", handleRefresh(a.auth))
		authGroup.GET("/me", authn, handleGetMe())
		authGroup.POST("/logout", authn, handleLogout())
		authGroup.POST("/password/reset-request", strict, handleResetRequest(a.auth))
		authGroup.POST("/password/reset", strict, handleResetPassword(a.auth))
	}

	fileGroup := api.Group("/files")
	{
		// Share links are anonymous.
		fileGroup.GET("/access/:token", handleAccessByToken(a.gate, a.auth))
		fileGroup.GET("/download/:token", a.limit("download", a.cfg.RateLimit.DownloadMax), handleDownloadByToken(a.gate, a.blobs, a.logger))

		limits := uploadLimits{MaxSize: a.cfg.App.MaxUploadSize, Allowed: a.cfg.App.AllowedExtensions}
		fileGroup.POST("/upload", authn, a.limit("upload", a.cfg.RateLimit.UploadMax), handleUpload(a.files, a.blobs, limits, a.logger))
		fileGroup.GET("", authn, handleListFiles(a.files))
		fileGroup.GET("/:id", authn, handleGetFile(a.files))
		fileGroup.PATCH("/:id/regenerate-token", authn, handleRegenerateToken(a.files))
		fileGroup.PATCH("/:id/revoke", authn, handleRevoke(a.files))
		fileGroup.DELETE("/:id", authn, handleDeleteFile(a.files))
	}

	activityGroup := api.Group("/activities", authn)
	{
		activityGroup.GET("", handleOwnerActivities(a.activity))
		activityGroup.GET("/:fileId", handleFileActivities(a.files, a.activity))
	}

	adminGroup := api.Group("/admin", authn, middleware.AdminOnly())
	{
		adminGroup.GET("/stats", handleAdminStats(a.auth, a.files, a.activity))
		adminGroup.GET("/users", handleAdminUsers(a.auth))
		adminGroup.GET("/files", handleAdminFiles(a.files))
		adminGroup.GET("/activities", handleAdminActivities(a.activity))
		adminGroup.DELETE("/files/:id", handleDeleteFile(a.files))
		adminGroup.PATCH("/users/:id/role", handleChangeRole(a.auth))
	}

	return router
}

func handleHealth(checks map[string]healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		c.JSON(code, gin.H{
			"status": status,
			"checks": results,
			"time":   time.Now().Unix(),
		})
	}
}
