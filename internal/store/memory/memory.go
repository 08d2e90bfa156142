// Package memory keeps users, files and activity events in process memory.
// Every mutation happens under one mutex, which gives the same atomicity as
// the conditional updates in sqlstore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/lockout"
	"github.com/secure-share-hub/internal/models"
)

type Store struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*models.User
	files      map[uuid.UUID]*models.FileRecord
	activities []models.ActivityEvent
}

func New() *Store {
	return &Store{
		users: make(map[uuid.UUID]*models.User),
		files: make(map[uuid.UUID]*models.FileRecord),
	}
}

func (s *Store) Users() *UserRepo { return &UserRepo{s} }

func (s *Store) Files() *FileRepo { return &FileRepo{s} }

func (s *Store) Activities() *ActivityRepo { return &ActivityRepo{s} }

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.LockUntil = copyTime(u.LockUntil)
	c.ResetTokenHash = copyString(u.ResetTokenHash)
	c.ResetTokenExpiry = copyTime(u.ResetTokenExpiry)
	return &c
}

// ========================================
// Users
// ========================================

type UserRepo struct{ s *Store }

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u.Email = models.NormalizeEmail(u.Email)
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return models.ErrConflict
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.s.users[u.ID] = cloneUser(u)
	return nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	email = models.NormalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, *cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.users), nil
}

func (r *UserRepo) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.Role = role
	return nil
}

func (r *UserRepo) RecordFailedAttempt(ctx context.Context, id uuid.UUID, now time.Time, policy lockout.Policy) (lockout.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return lockout.Result{}, models.ErrNotFound
	}
	current := u.Lockout()
	if lockout.IsLocked(current, now) {
		return lockout.Result{Counters: current, Applied: false}, nil
	}
	next := policy.AfterFailure(current, now)
	u.FailedAttempts = next.FailedAttempts
	u.LockUntil = copyTime(next.LockUntil)
	return lockout.Result{Counters: next, Applied: true}, nil
}

func (r *UserRepo) ResetFailedAttempts(ctx context.Context, id uuid.UUID, now time.Time) (lockout.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return lockout.Result{}, models.ErrNotFound
	}
	current := u.Lockout()
	if lockout.IsLocked(current, now) {
		return lockout.Result{Counters: current, Applied: false}, nil
	}
	u.FailedAttempts = 0
	u.LockUntil = nil
	return lockout.Result{Applied: true}, nil
}

func (r *UserRepo) SetResetToken(ctx context.Context, id uuid.UUID, hash string, expiry time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.ResetTokenHash = &hash
	u.ResetTokenExpiry = &expiry
	return nil
}

func (r *UserRepo) ConsumeResetToken(ctx context.Context, hash string, now time.Time, newPasswordHash string) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.ResetTokenHash == nil || *u.ResetTokenHash != hash {
			continue
		}
		if u.ResetTokenExpiry == nil || !u.ResetTokenExpiry.After(now) {
			return uuid.Nil, models.ErrNotFound
		}
		u.PasswordHash = newPasswordHash
		u.ResetTokenHash = nil
		u.ResetTokenExpiry = nil
		u.FailedAttempts = 0
		u.LockUntil = nil
		return u.ID, nil
	}
	return uuid.Nil, models.ErrNotFound
}

// ========================================
// Files
// ========================================

type FileRepo struct{ s *Store }

func (r *FileRepo) Create(ctx context.Context, f *models.FileRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.files {
		if existing.AccessToken == f.AccessToken {
			return models.ErrConflict
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	c := *f
	r.s.files[f.ID] = &c
	return nil
}

func (r *FileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	f, ok := r.s.files[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (r *FileRepo) GetByAccessToken(ctx context.Context, token string) (*models.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, f := range r.s.files {
		if f.AccessToken == token {
			c := *f
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *FileRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []models.FileRecord
	for _, f := range r.s.files {
		if f.OwnerID == ownerID {
			out = append(out, *f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (r *FileRepo) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.FileRecord, 0, len(r.s.files))
	for _, f := range r.s.files {
		out = append(out, *f)
	}
	sortFiles(out)
	return out, nil
}

func sortFiles(files []models.FileRecord) {
	sort.Slice(files, func(i, j int) bool { return files[i].UploadedAt.After(files[j].UploadedAt) })
}

func (r *FileRepo) ConsumeDownload(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.files[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if f.Revoked() || f.Expired(now) || f.LimitReached() {
		return false, nil
	}
	f.UsedDownloads++
	return true, nil
}

func (r *FileRepo) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.files[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if f.Revoked() {
		return false, nil
	}
	f.Status = models.ShareRevoked
	return true, nil
}

func (r *FileRepo) RotateToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.files[id]
	if !ok {
		return models.ErrNotFound
	}
	for otherID, other := range r.s.files {
		if otherID != id && other.AccessToken == token {
			return models.ErrConflict
		}
	}
	f.AccessToken = token
	f.ExpiresAt = expiresAt
	f.Status = models.ShareActive
	f.UsedDownloads = 0
	return nil
}

func (r *FileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.files[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.s.files, id)
	return nil
}

func (r *FileRepo) Stats(ctx context.Context, now time.Time) (models.FileStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st := models.FileStats{TotalFiles: len(r.s.files)}
	for _, f := range r.s.files {
		if f.Revoked() || f.Expired(now) {
			st.ExpiredLinks++
		} else {
			st.ActiveLinks++
		}
	}
	return st, nil
}

// ========================================
// Activities
// ========================================

type ActivityRepo struct{ s *Store }

func (r *ActivityRepo) Append(ctx context.Context, e *models.ActivityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.s.activities = append(r.s.activities, *e)
	return nil
}

// newestFirst returns up to limit matching events, most recent first.
// limit <= 0 means no limit.
func (r *ActivityRepo) newestFirst(limit int, match func(models.ActivityEvent) bool) []models.ActivityEvent {
	events := make([]models.ActivityEvent, len(r.s.activities))
	copy(events, r.s.activities)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })

	var out []models.ActivityEvent
	for _, e := range events {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !match(e) {
			continue
		}
		if f, ok := r.s.files[e.FileID]; ok {
			e.FileName = f.OriginalName
		}
		out = append(out, e)
	}
	return out
}

func (r *ActivityRepo) ListByFile(ctx context.Context, fileID uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.newestFirst(limit, func(e models.ActivityEvent) bool { return e.FileID == fileID }), nil
}

func (r *ActivityRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.newestFirst(limit, func(e models.ActivityEvent) bool {
		f, ok := r.s.files[e.FileID]
		return ok && f.OwnerID == ownerID
	}), nil
}

func (r *ActivityRepo) ListAll(ctx context.Context, limit int) ([]models.ActivityEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.newestFirst(limit, func(models.ActivityEvent) bool { return true }), nil
}

func (r *ActivityRepo) CountByType(ctx context.Context, t models.EventType) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, e := range r.s.activities {
		if e.EventType == t {
			n++
		}
	}
	return n, nil
}

func (r *ActivityRepo) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.activities[:0]
	for _, e := range r.s.activities {
		if e.FileID != fileID {
			kept = append(kept, e)
		}
	}
	r.s.activities = kept
	return nil
}

func (r *ActivityRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var removed int64
	kept := r.s.activities[:0]
	for _, e := range r.s.activities {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.s.activities = kept
	return removed, nil
}
