// Package share owns shared files: their access tokens, the lifecycle of a
// share link and the access Gate that guards it.
package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/token"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrInvalidExpiry = errors.New("invalid expiry")
	ErrInvalidLimit  = errors.New("invalid download limit")
)

// tokenAttempts bounds retries when a fresh token collides with a stored one.
const tokenAttempts = 3

// Actor is the authenticated caller. Admins may act on any file.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

func (a Actor) canAccess(f *models.FileRecord) bool {
	return a.Admin || f.OwnerID == a.UserID
}

// EventLog is what the lifecycle needs from the activity recorder.
type EventLog interface {
	Record(ctx context.Context, e models.ActivityEvent) error
	PurgeFile(ctx context.Context, fileID uuid.UUID) error
}

type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Config struct {
	DefaultExpiry    time.Duration
	RegenerateExpiry time.Duration
	MaxExpiry        time.Duration
}

type Service struct {
	files  models.FileRepository
	events EventLog
	blobs  BlobDeleter
	clock  clock.Clock
	cfg    Config
	logger logrus.FieldLogger
	issue  func() (string, error)
}

func NewService(files models.FileRepository, events EventLog, blobs BlobDeleter, clk clock.Clock, cfg Config, logger logrus.FieldLogger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = 24 * time.Hour
	}
	if cfg.RegenerateExpiry <= 0 {
		cfg.RegenerateExpiry = cfg.DefaultExpiry
	}
	return &Service{
		files:  files,
		events: events,
		blobs:  blobs,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		issue:  token.IssueAccessToken,
	}
}

// CreateInput describes a file whose bytes are already in blob storage.
type CreateInput struct {
	OwnerID      uuid.UUID
	Name         string
	OriginalName string
	Size         int64
	ContentType  string
	StorageKey   string
	MaxDownloads int
	ExpiryHours  int
	Visibility   models.Visibility
}

func (s *Service) expiry(hours int, fallback time.Duration) (time.Duration, error) {
	if hours < 0 {
		return 0, ErrInvalidExpiry
	}
	d := fallback
	if hours > 0 {
		d = time.Duration(hours) * time.Hour
	}
	if s.cfg.MaxExpiry > 0 && d > s.cfg.MaxExpiry {
		return 0, fmt.Errorf("%w: at most %s", ErrInvalidExpiry, s.cfg.MaxExpiry)
	}
	return d, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput, meta RequestMeta) (*models.FileRecord, error) {
	if in.MaxDownloads < 0 {
		return nil, ErrInvalidLimit
	}
	window, err := s.expiry(in.ExpiryHours, s.cfg.DefaultExpiry)
	if err != nil {
		return nil, err
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPrivate
	}

	now := s.clock.Now()
	f := &models.FileRecord{
		ID:           uuid.New(),
		OwnerID:      in.OwnerID,
		Name:         in.Name,
		OriginalName: in.OriginalName,
		Size:         in.Size,
		ContentType:  in.ContentType,
		StorageKey:   in.StorageKey,
		ExpiresAt:    now.Add(window),
		MaxDownloads: in.MaxDownloads,
		Status:       models.ShareActive,
		Visibility:   in.Visibility,
		UploadedAt:   now,
	}
	err = s.withFreshToken(func(tok string) error {
		f.AccessToken = tok
		return s.files.Create(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	s.record(ctx, f.ID, models.EventAccessAttempt, models.StatusInfo, "File uploaded: "+f.OriginalName, meta)
	return f, nil
}

// withFreshToken calls store with new tokens until one is not taken.
func (s *Service) withFreshToken(store func(tok string) error) error {
	var err error
	for i := 0; i < tokenAttempts; i++ {
		var tok string
		if tok, err = s.issue(); err != nil {
			return err
		}
		if err = store(tok); !errors.Is(err, models.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]models.FileRecord, error) {
	return s.files.ListByOwner(ctx, ownerID)
}

func (s *Service) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	return s.files.ListAll(ctx)
}

// Get returns a file the actor may see. Files of other users are reported as
// missing rather than forbidden.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.FileRecord, error) {
	f, err := s.files.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if !actor.canAccess(f) {
		return nil, ErrFileNotFound
	}
	return f, nil
}

// Revoke permanently disables the link. Revoking twice is a no-op and only
// the first call is recorded.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actor Actor, meta RequestMeta) (*models.FileRecord, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	changed, err := s.files.Revoke(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("revoke file: %w", err)
	}
	if changed {
		s.record(ctx, id, models.EventLinkRevoked, models.StatusBlocked, "Access link revoked", meta)
	}
	return s.Get(ctx, id, actor)
}

// Regenerate replaces the token and starts a fresh grant: active again, a
// new expiry window and no downloads used. The old token stops resolving
// immediately.
func (s *Service) Regenerate(ctx context.Context, id uuid.UUID, actor Actor, expiryHours int, meta RequestMeta) (*models.FileRecord, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	window, err := s.expiry(expiryHours, s.cfg.RegenerateExpiry)
	if err != nil {
		return nil, err
	}
	expiresAt := s.clock.Now().Add(window)

	err = s.withFreshToken(func(tok string) error {
		return s.files.RotateToken(ctx, id, tok, expiresAt)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("regenerate token: %w", err)
	}

	s.record(ctx, id, models.EventLinkRegenerated, models.StatusInfo, "Access link regenerated", meta)
	return s.Get(ctx, id, actor)
}

// Delete removes the record, its bytes and its events. Once the record is
// gone the delete has succeeded; cleanup failures are only logged.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor Actor) error {
	f, err := s.Get(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.files.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrFileNotFound
		}
		return fmt.Errorf("delete file: %w", err)
	}

	log := s.logger.WithField("file_id", id)
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		log.WithError(err).Warn("failed to delete stored bytes")
	}
	if err := s.events.PurgeFile(ctx, id); err != nil {
		log.WithError(err).Warn("failed to purge file activity")
	}
	log.Info("file deleted")
	return nil
}

func (s *Service) Stats(ctx context.Context) (models.FileStats, error) {
	return s.files.Stats(ctx, s.clock.Now())
}

func (s *Service) record(ctx context.Context, fileID uuid.UUID, t models.EventType, st models.EventStatus, details string, meta RequestMeta) {
	err := s.events.Record(ctx, models.ActivityEvent{
		FileID:    fileID,
		EventType: t,
		Status:    st,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		s.logger.WithError(err).WithField("file_id", fileID).Error("failed to record activity")
	}
}
