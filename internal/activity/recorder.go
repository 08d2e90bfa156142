// Package activity records share link events and serves the activity feeds.
package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
)

// Feed sizes, most recent first.
const (
	FileFeedLimit  = 100
	OwnerFeedLimit = 500
	AdminFeedLimit = 1000
)

// Sink is where access decisions are written.
type Sink interface {
	Record(ctx context.Context, e models.ActivityEvent) error
}

type Recorder struct {
	repo   models.ActivityRepository
	clock  clock.Clock
	logger logrus.FieldLogger
}

func NewRecorder(repo models.ActivityRepository, clk clock.Clock, logger logrus.FieldLogger) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	return &Recorder{repo: repo, clock: clk, logger: logger}
}

// Record appends e, stamping its id and time when unset.
func (r *Recorder) Record(ctx context.Context, e models.ActivityEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock.Now()
	}
	if err := r.repo.Append(ctx, &e); err != nil {
		return fmt.Errorf("record %s event: %w", e.EventType, err)
	}
	r.logger.WithFields(logrus.Fields{
		"file_id": e.FileID,
		"event":   e.EventType,
		"status":  e.Status,
	}).Debug("activity recorded")
	return nil
}

func (r *Recorder) ForFile(ctx context.Context, fileID uuid.UUID) ([]models.ActivityEvent, error) {
	events, err := r.repo.ListByFile(ctx, fileID, FileFeedLimit)
	return withClients(events), err
}

func (r *Recorder) ForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ActivityEvent, error) {
	events, err := r.repo.ListByOwner(ctx, ownerID, OwnerFeedLimit)
	return withClients(events), err
}

func (r *Recorder) All(ctx context.Context) ([]models.ActivityEvent, error) {
	events, err := r.repo.ListAll(ctx, AdminFeedLimit)
	return withClients(events), err
}

func (r *Recorder) CountByType(ctx context.Context, t models.EventType) (int, error) {
	return r.repo.CountByType(ctx, t)
}

// PurgeFile drops the events of a deleted file.
func (r *Recorder) PurgeFile(ctx context.Context, fileID uuid.UUID) error {
	return r.repo.DeleteByFile(ctx, fileID)
}

func withClients(events []models.ActivityEvent) []models.ActivityEvent {
	for i := range events {
		events[i].Client = ClientLabel(events[i].UserAgent)
	}
	return events
}
