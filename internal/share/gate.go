package share

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/activity"
	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
)

// Code is the client-facing reason a share link was refused.
type Code string

const (
	CodeFileNotFound  Code = "FILE_NOT_FOUND"
	CodeLinkRevoked   Code = "LINK_REVOKED"
	CodeLinkExpired   Code = "LINK_EXPIRED"
	CodeLimitExceeded Code = "LIMIT_EXCEEDED"
)

// RequestMeta identifies the caller in recorded events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Decision is the Gate's answer for one request. File is set whenever the
// token matched a record.
type Decision struct {
	Allowed bool
	Status  int
	Code    Code
	File    *models.FileRecord
}

// Gate decides whether a share token may read metadata or download bytes.
// Every decision on an existing record leaves exactly one activity event.
type Gate struct {
	files  models.FileRepository
	sink   activity.Sink
	clock  clock.Clock
	logger logrus.FieldLogger
}

func NewGate(files models.FileRepository, sink activity.Sink, clk clock.Clock, logger logrus.FieldLogger) *Gate {
	if clk == nil {
		clk = clock.System{}
	}
	return &Gate{files: files, sink: sink, clock: clk, logger: logger}
}

type verdict struct {
	code    Code
	event   models.EventType
	details string
}

// evaluate applies the blocking rules in order: revoked, expired, limit.
func evaluate(f *models.FileRecord, now time.Time, download bool) (verdict, bool) {
	switch {
	case f.Revoked():
		if download {
			return verdict{CodeLinkRevoked, models.EventDownloadBlocked, "Download blocked - Link revoked"}, true
		}
		return verdict{CodeLinkRevoked, models.EventAccessAttempt, "Access attempt with revoked token"}, true
	case f.Expired(now):
		return verdict{CodeLinkExpired, models.EventDownloadBlocked, "Download blocked - Token expired"}, true
	case f.LimitReached():
		return verdict{CodeLimitExceeded, models.EventDownloadBlocked, "Download blocked - Limit exceeded"}, true
	}
	return verdict{}, false
}

// Opener readies the bytes of an allowed download before its slot is taken.
type Opener func(f *models.FileRecord) error

// Check runs the access decision for token. For a download it also takes a
// download slot; the slot is taken by the store in one conditional update,
// so of two requests racing for the last slot exactly one is allowed. A
// non-nil error means the store failed and nothing was consumed.
func (g *Gate) Check(ctx context.Context, token string, isDownload bool, meta RequestMeta) (Decision, error) {
	return g.decide(ctx, token, isDownload, meta, nil)
}

// Download is Check for a download that must deliver bytes. open runs after
// the blocking rules pass and before the slot is taken; when it fails no slot
// is consumed, no event is recorded and its error is returned.
func (g *Gate) Download(ctx context.Context, token string, meta RequestMeta, open Opener) (Decision, error) {
	return g.decide(ctx, token, true, meta, open)
}

func (g *Gate) decide(ctx context.Context, token string, isDownload bool, meta RequestMeta, open Opener) (Decision, error) {
	f, err := g.files.GetByAccessToken(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return notFound(), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("look up share token: %w", err)
	}

	now := g.clock.Now()
	if v, blocked := evaluate(f, now, isDownload); blocked {
		return g.block(ctx, f, v, meta), nil
	}

	if !isDownload {
		g.record(ctx, f, models.EventAccessAttempt, models.StatusSuccess, "Token validated successfully", meta)
		return allow(f), nil
	}

	if open != nil {
		if err := open(f); err != nil {
			return Decision{}, fmt.Errorf("open download: %w", err)
		}
	}

	ok, err := g.files.ConsumeDownload(ctx, f.ID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume download: %w", err)
	}
	if !ok {
		return g.lostRace(ctx, f.ID, token, now, meta)
	}

	f.UsedDownloads++
	g.record(ctx, f, models.EventDownloadSuccess, models.StatusSuccess, "File downloaded successfully", meta)
	return allow(f), nil
}

// lostRace explains a refused slot from the record as it is now.
func (g *Gate) lostRace(ctx context.Context, id uuid.UUID, token string, now time.Time, meta RequestMeta) (Decision, error) {
	cur, err := g.files.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return notFound(), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("reload share: %w", err)
	}
	if cur.AccessToken != token {
		// Regenerated in the meantime; the old token is gone.
		return notFound(), nil
	}
	v, blocked := evaluate(cur, now, true)
	if !blocked {
		v = verdict{CodeLimitExceeded, models.EventDownloadBlocked, "Download blocked - Limit exceeded"}
	}
	return g.block(ctx, cur, v, meta), nil
}

func (g *Gate) block(ctx context.Context, f *models.FileRecord, v verdict, meta RequestMeta) Decision {
	g.record(ctx, f, v.event, models.StatusBlocked, v.details, meta)
	return Decision{Status: http.StatusForbidden, Code: v.code, File: f}
}

// record writes an event. A failing sink is logged and never changes the
// decision.
func (g *Gate) record(ctx context.Context, f *models.FileRecord, t models.EventType, st models.EventStatus, details string, meta RequestMeta) {
	err := g.sink.Record(ctx, models.ActivityEvent{
		FileID:    f.ID,
		EventType: t,
		Status:    st,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"file_id": f.ID,
			"event":   t,
		}).Error("failed to record activity")
	}
}

func allow(f *models.FileRecord) Decision {
	return Decision{Allowed: true, Status: http.StatusOK, File: f}
}

func notFound() Decision {
	return Decision{Status: http.StatusNotFound, Code: CodeFileNotFound}
}
