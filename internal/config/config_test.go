package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Address())
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 24*time.Hour, cfg.Share.DefaultExpiry)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.AuthMax)
	assert.Equal(t, 50, cfg.RateLimit.DownloadMax)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "./data/share.db", cfg.Database.DSN())
	assert.Equal(t, gin.DebugMode, cfg.GinMode())
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SERVER_PORT", "8081")
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("RATE_LIMIT_WINDOW", "60")
	t.Setenv("ALLOWED_EXTENSIONS", ".PDF, txt ,")
	t.Setenv("SERVER_MODE", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "host=db port=5432 user=postgres password=pw dbname=secure_share sslmode=disable", cfg.Database.DSN())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Address())
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"pdf", "txt"}, cfg.App.AllowedExtensions)
	assert.Equal(t, gin.TestMode, cfg.GinMode())
}

func TestValidateReleaseSecrets(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SERVER_MODE", "release")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be set")

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("JWT_REFRESH_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")

	t.Setenv("JWT_REFRESH_SECRET", "fedcba9876543210fedcba9876543210")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, gin.ReleaseMode, cfg.GinMode())
}

func TestValidateEnums(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DB_TYPE", "mongo")
	t.Setenv("STORAGE_TYPE", "s3")
	t.Setenv("PASSWORD_HASHER", "md5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_TYPE")
	assert.Contains(t, err.Error(), "STORAGE_TYPE")
	assert.Contains(t, err.Error(), "PASSWORD_HASHER")
}

func TestValidateRateLimitMax(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RATE_LIMIT_DOWNLOAD_MAX", "0")
	t.Setenv("RATE_LIMIT_API_MAX", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_DOWNLOAD_MAX must be positive")
	assert.Contains(t, err.Error(), "RATE_LIMIT_API_MAX must be positive")
	assert.NotContains(t, err.Error(), "RATE_LIMIT_AUTH_MAX")

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	_, err = Load()
	assert.NoError(t, err)
}

func TestDotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SERVER_PORT=9090\nSTORAGE_TYPE=minio\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("STORAGE_TYPE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "minio", cfg.Storage.Type)
}

// chdirTemp moves into an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}
