package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/activity"
	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/config"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/notify"
	"github.com/secure-share-hub/internal/ratelimit"
	"github.com/secure-share-hub/internal/share"
	"github.com/secure-share-hub/internal/storage"
	"github.com/secure-share-hub/internal/store/memory"
	"github.com/secure-share-hub/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// repositories is one backing store seen through the repository contracts.
type repositories struct {
	users      models.UserRepository
	files      models.FileRepository
	activities models.ActivityRepository
	ping       healthCheck
	closer     io.Closer
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig) (*repositories, error) {
	switch cfg.Type {
	case "memory":
		s := memory.New()
		return &repositories{users: s.Users(), files: s.Files(), activities: s.Activities(), ping: s.Ping, closer: s}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return openSQL(ctx, sqlstore.DriverSQLite, cfg)
	case "postgres":
		return openSQL(ctx, sqlstore.DriverPostgres, cfg)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

func openSQL(ctx context.Context, driver string, cfg config.DatabaseConfig) (*repositories, error) {
	s, err := sqlstore.Open(ctx, driver, cfg.DSN(), cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	return &repositories{users: s.Users(), files: s.Files(), activities: s.Activities(), ping: s.Ping, closer: s}, nil
}

func openBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	if cfg.Type == "local" {
		return storage.NewLocalStore(cfg.LocalRoot)
	}
	store, err := storage.NewMinIOStore(storage.MinIOConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Bucket:    cfg.MinIO.Bucket,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repos, err := openRepositories(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repos.closer.Close()
	logger.WithField("type", cfg.Database.Type).Info("Database ready")

	checks := map[string]healthCheck{"database": repos.ping}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(clock.System{})
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("Connected to Redis")
		limiter = ratelimit.NewRedisLimiter(rdb, "ratelimit", clock.System{})
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	blobs, err := openBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}
	logger.WithField("type", cfg.Storage.Type).Info("Storage service initialized")

	hasher, err := auth.NewHasher(cfg.Auth.PasswordHasher, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTRefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, clock.System{})
	authService := auth.NewService(repos.users, hasher, tokens,
		notify.NewLogSender(cfg.Auth.ResetBaseURL, logger),
		auth.WithLogger(logger))

	recorder := activity.NewRecorder(repos.activities, clock.System{}, logger)
	shareService := share.NewService(repos.files, recorder, blobs, clock.System{}, share.Config{
		DefaultExpiry:    cfg.Share.DefaultExpiry,
		RegenerateExpiry: cfg.Share.RegenerateExpiry,
		MaxExpiry:        cfg.Share.MaxExpiry,
	}, logger)
	gate := share.NewGate(repos.files, recorder, clock.System{}, logger)

	if cfg.Auth.BootstrapAdminEmail != "" {
		if _, err := authService.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail,
			cfg.Auth.BootstrapAdminPassword, cfg.Auth.BootstrapAdminName); err != nil {
			return err
		}
	}

	if cfg.Activity.RetentionDays > 0 {
		retention := activity.NewRetention(repos.activities, clock.System{}, cfg.Activity.RetentionDays, logger)
		if err := retention.Start(cfg.Activity.PruneSchedule); err != nil {
			return fmt.Errorf("schedule activity retention: %w", err)
		}
		defer func() { <-retention.Stop().Done() }()
	}

	gin.SetMode(cfg.GinMode())
	router := newRouter(&app{
		cfg:      cfg,
		logger:   logger,
		auth:     authService,
		files:    shareService,
		gate:     gate,
		activity: recorder,
		blobs:    blobs,
		limiter:  limiter,
		checks:   checks,
	})

	srv := &http.Server{
		Addr:           cfg.Server.Address(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
