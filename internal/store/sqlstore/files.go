package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/models"
)

type FileRepo struct{ s *Store }

const fileColumns = `id, owner_id, name, original_name, size, content_type, storage_key,
	access_token, expires_at, max_downloads, used_downloads, status, visibility, uploaded_at`

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		f          models.FileRecord
		expiresAt  int64
		uploadedAt int64
	)
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.OriginalName, &f.Size, &f.ContentType, &f.StorageKey,
		&f.AccessToken, &expiresAt, &f.MaxDownloads, &f.UsedDownloads, &f.Status, &f.Visibility, &uploadedAt)
	if err != nil {
		return nil, classify(err)
	}
	f.ExpiresAt = fromMillis(expiresAt)
	f.UploadedAt = fromMillis(uploadedAt)
	return &f, nil
}

func (r *FileRepo) Create(ctx context.Context, f *models.FileRecord) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	_, err := r.s.exec(ctx, `INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Name, f.OriginalName, f.Size, f.ContentType, f.StorageKey,
		f.AccessToken, toMillis(f.ExpiresAt), f.MaxDownloads, f.UsedDownloads,
		string(f.Status), string(f.Visibility), toMillis(f.UploadedAt))
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (r *FileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FileRecord, error) {
	return scanFile(r.s.queryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

func (r *FileRepo) GetByAccessToken(ctx context.Context, token string) (*models.FileRecord, error) {
	return scanFile(r.s.queryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE access_token = ?`, token))
}

func (r *FileRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files WHERE owner_id = ? ORDER BY uploaded_at DESC`, ownerID)
}

func (r *FileRepo) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	return r.list(ctx, `SELECT `+fileColumns+` FROM files ORDER BY uploaded_at DESC`)
}

func (r *FileRepo) list(ctx context.Context, query string, args ...any) ([]models.FileRecord, error) {
	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, classify(rows.Err())
}

// ConsumeDownload takes one download slot with a single conditional UPDATE.
// Two requests racing for the last slot both run it; only one matches.
func (r *FileRepo) ConsumeDownload(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := r.s.exec(ctx, `UPDATE files SET used_downloads = used_downloads + 1
		WHERE id = ?
			AND status = 'active'
			AND expires_at >= ?
			AND (max_downloads = 0 OR used_downloads < max_downloads)`,
		id, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("consume download: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (r *FileRepo) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.s.exec(ctx, `UPDATE files SET status = 'revoked' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("revoke file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *FileRepo) RotateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	res, err := r.s.exec(ctx, `UPDATE files SET access_token = ?, expires_at = ?, status = 'active', used_downloads = 0
		WHERE id = ?`, token, toMillis(expiresAt), id)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	return requireRow(res)
}

func (r *FileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.exec(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireRow(res)
}

func (r *FileRepo) Stats(ctx context.Context, now time.Time) (models.FileStats, error) {
	var st models.FileStats
	err := r.s.queryRow(ctx, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' AND expires_at >= ? THEN 1 ELSE 0 END), 0)
		FROM files`, toMillis(now)).Scan(&st.TotalFiles, &st.ActiveLinks)
	if err != nil {
		return st, fmt.Errorf("file stats: %w", classify(err))
	}
	st.ExpiredLinks = st.TotalFiles - st.ActiveLinks
	return st, nil
}
