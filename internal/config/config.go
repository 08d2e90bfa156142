package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "change-me-in-production"

// Config 应用配置结构
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Auth      AuthConfig
	Share     ShareConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Activity  ActivityConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type AppConfig struct {
	LogLevel          string
	LogFormat         string
	EnableCORS        bool
	CORSOrigin        string
	MaxUploadSize     int64
	AllowedExtensions []string
}

type AuthConfig struct {
	JWTSecret              string
	JWTRefreshSecret       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	PasswordHasher         string
	BcryptCost             int
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminName     string
	ResetBaseURL           string
}

type ShareConfig struct {
	DefaultExpiry    time.Duration
	RegenerateExpiry time.Duration
	MaxExpiry        time.Duration
}

type DatabaseConfig struct {
	Type         string
	SQLitePath   string
	Postgres     PostgresConfig
	MaxOpenConns int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type StorageConfig struct {
	Type      string
	LocalRoot string
	MinIO     MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RateLimitConfig struct {
	Enabled     bool
	Window      time.Duration
	AuthMax     int
	UploadMax   int
	DownloadMax int
	APIMax      int
}

type ActivityConfig struct {
	RetentionDays int
	PruneSchedule string
}

// Load 加载配置. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            env("SERVER_HOST", "0.0.0.0"),
			Port:            envInt("SERVER_PORT", 5000),
			Mode:            env("SERVER_MODE", "debug"),
			ReadTimeout:     envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: envDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		App: AppConfig{
			LogLevel:          env("LOG_LEVEL", "info"),
			LogFormat:         env("LOG_FORMAT", "json"),
			EnableCORS:        envBool("ENABLE_CORS", true),
			CORSOrigin:        env("CORS_ORIGIN", "*"),
			MaxUploadSize:     int64(envInt("MAX_FILE_SIZE", 100*1024*1024)),
			AllowedExtensions: envList("ALLOWED_EXTENSIONS", []string{"pdf", "docx", "xlsx", "txt", "png", "jpg", "jpeg", "zip"}),
		},
		Auth: AuthConfig{
			JWTSecret:              env("JWT_SECRET", defaultJWTSecret),
			JWTRefreshSecret:       env("JWT_REFRESH_SECRET", defaultJWTSecret+"-refresh"),
			AccessTTL:              envDuration("JWT_EXPIRES_IN", 24*time.Hour),
			RefreshTTL:             envDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
			PasswordHasher:         env("PASSWORD_HASHER", "bcrypt"),
			BcryptCost:             envInt("BCRYPT_COST", 12),
			BootstrapAdminEmail:    env("ADMIN_EMAIL", ""),
			BootstrapAdminPassword: env("ADMIN_PASSWORD", ""),
			BootstrapAdminName:     env("ADMIN_NAME", "Administrator"),
			ResetBaseURL:           env("RESET_BASE_URL", "http://localhost:3000"),
		},
		Share: ShareConfig{
			DefaultExpiry:    envDuration("SHARE_DEFAULT_EXPIRY", 24*time.Hour),
			RegenerateExpiry: envDuration("SHARE_REGENERATE_EXPIRY", 24*time.Hour),
			MaxExpiry:        envDuration("SHARE_MAX_EXPIRY", 30*24*time.Hour),
		},
		Database: DatabaseConfig{
			Type:       env("DB_TYPE", "sqlite"),
			SQLitePath: env("SQLITE_PATH", "./data/share.db"),
			Postgres: PostgresConfig{
				Host:     env("POSTGRES_HOST", "localhost"),
				Port:     envInt("POSTGRES_PORT", 5432),
				User:     env("POSTGRES_USER", "postgres"),
				Password: env("POSTGRES_PASSWORD", ""),
				Name:     env("POSTGRES_DB", "secure_share"),
				SSLMode:  env("POSTGRES_SSLMODE", "disable"),
			},
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			Enabled:  envBool("REDIS_ENABLED", false),
			Host:     env("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Type:      env("STORAGE_TYPE", "local"),
			LocalRoot: env("STORAGE_LOCAL_ROOT", "./uploads"),
			MinIO: MinIOConfig{
				Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: env("MINIO_ACCESS_KEY", ""),
				SecretKey: env("MINIO_SECRET_KEY", ""),
				UseSSL:    envBool("MINIO_USE_SSL", false),
				Bucket:    env("MINIO_BUCKET", "secure-share"),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:     envBool("RATE_LIMIT_ENABLED", true),
			Window:      envDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			AuthMax:     envInt("RATE_LIMIT_AUTH_MAX", 5),
			UploadMax:   envInt("RATE_LIMIT_UPLOAD_MAX", 10),
			DownloadMax: envInt("RATE_LIMIT_DOWNLOAD_MAX", 50),
			APIMax:      envInt("RATE_LIMIT_API_MAX", 100),
		},
		Activity: ActivityConfig{
			RetentionDays: envInt("ACTIVITY_RETENTION_DAYS", 90),
			PruneSchedule: env("ACTIVITY_PRUNE_SCHEDULE", "@daily"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("SERVER_MODE must be debug, release or test, got %q", c.Server.Mode))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port))
	}

	if c.Auth.JWTSecret == c.Auth.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.IsProduction() {
		for name, secret := range map[string]string{
			"JWT_SECRET":         c.Auth.JWTSecret,
			"JWT_REFRESH_SECRET": c.Auth.JWTRefreshSecret,
		} {
			if strings.HasPrefix(secret, defaultJWTSecret) || len(secret) < 32 {
				errs = append(errs, fmt.Errorf("%s must be set to at least 32 characters in release mode", name))
			}
		}
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	switch c.Auth.PasswordHasher {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_HASHER must be bcrypt or argon2id, got %q", c.Auth.PasswordHasher))
	}

	if c.Share.DefaultExpiry <= 0 || c.Share.RegenerateExpiry <= 0 {
		errs = append(errs, errors.New("share expiry windows must be positive"))
	}
	if c.Share.MaxExpiry > 0 && c.Share.DefaultExpiry > c.Share.MaxExpiry {
		errs = append(errs, errors.New("SHARE_DEFAULT_EXPIRY exceeds SHARE_MAX_EXPIRY"))
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_TYPE must be sqlite, postgres or memory, got %q", c.Database.Type))
	}
	switch c.Storage.Type {
	case "local", "minio":
	default:
		errs = append(errs, fmt.Errorf("STORAGE_TYPE must be local or minio, got %q", c.Storage.Type))
	}
	if c.App.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_FILE_SIZE must be positive"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
		}
		for _, l := range []struct {
			name string
			max  int
		}{
			{"RATE_LIMIT_AUTH_MAX", c.RateLimit.AuthMax},
			{"RATE_LIMIT_UPLOAD_MAX", c.RateLimit.UploadMax},
			{"RATE_LIMIT_DOWNLOAD_MAX", c.RateLimit.DownloadMax},
			{"RATE_LIMIT_API_MAX", c.RateLimit.APIMax},
		} {
			if l.max <= 0 {
				errs = append(errs, fmt.Errorf("%s must be positive, got %d", l.name, l.max))
			}
		}
	}

	return errors.Join(errs...)
}

// DSN 获取数据库连接字符串
func (d DatabaseConfig) DSN() string {
	switch d.Type {
	case "postgres":
		p := d.Postgres
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			p.Host, p.Port, p.User, p.Password, p.Name, p.SSLMode)
	case "sqlite":
		return d.SQLitePath
	default:
		return ""
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Mode == "release"
}

// GinMode 获取Gin模式
func (c *Config) GinMode() string {
	switch c.Server.Mode {
	case "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(env(key, "")); err == nil {
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(env(key, "")); err == nil {
		return b
	}
	return fallback
}

// envDuration accepts Go durations ("15m") or plain seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := env(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "."))); part != "" {
			out = append(out, part)
		}
	}
	return out
}
