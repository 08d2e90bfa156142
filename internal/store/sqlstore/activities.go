package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/models"
)

type ActivityRepo struct{ s *Store }

const activitySelect = `SELECT a.id, a.file_id, a.occurred_at, a.event_type, a.status, a.details,
	a.ip_address, a.user_agent, COALESCE(f.original_name, '')
	FROM activities a LEFT JOIN files f ON f.id = a.file_id`

func (r *ActivityRepo) Append(ctx context.Context, e *models.ActivityEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.s.exec(ctx, `INSERT INTO activities
		(id, file_id, occurred_at, event_type, status, details, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FileID, toMillis(e.Timestamp), string(e.EventType), string(e.Status),
		e.Details, e.IPAddress, e.UserAgent)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (r *ActivityRepo) ListByFile(ctx context.Context, fileID uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	return r.list(ctx, activitySelect+` WHERE a.file_id = ? ORDER BY a.occurred_at DESC`+limitClause(limit), fileID)
}

func (r *ActivityRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	return r.list(ctx, activitySelect+` WHERE f.owner_id = ? ORDER BY a.occurred_at DESC`+limitClause(limit), ownerID)
}

func (r *ActivityRepo) ListAll(ctx context.Context, limit int) ([]models.ActivityEvent, error) {
	return r.list(ctx, activitySelect+` ORDER BY a.occurred_at DESC`+limitClause(limit))
}

func (r *ActivityRepo) list(ctx context.Context, query string, args ...any) ([]models.ActivityEvent, error) {
	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var events []models.ActivityEvent
	for rows.Next() {
		var (
			e  models.ActivityEvent
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.FileID, &ts, &e.EventType, &e.Status, &e.Details,
			&e.IPAddress, &e.UserAgent, &e.FileName); err != nil {
			return nil, classify(err)
		}
		e.Timestamp = fromMillis(ts)
		events = append(events, e)
	}
	return events, classify(rows.Err())
}

func (r *ActivityRepo) CountByType(ctx context.Context, t models.EventType) (int, error) {
	var n int
	if err := r.s.queryRow(ctx, `SELECT COUNT(*) FROM activities WHERE event_type = ?`, string(t)).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *ActivityRepo) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	if _, err := r.s.exec(ctx, `DELETE FROM activities WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	return nil
}

func (r *ActivityRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.s.exec(ctx, `DELETE FROM activities WHERE occurred_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	n, err := res.RowsAffected()
	return n, classify(err)
}
