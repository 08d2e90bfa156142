package models

import (
	"time"

	"github.com/google/uuid"
)

type ShareStatus string

const (
	ShareActive  ShareStatus = "active"
	ShareRevoked ShareStatus = "revoked"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// FileRecord is an uploaded file together with its share grant.
// MaxDownloads of 0 means unlimited; otherwise UsedDownloads never exceeds it.
type FileRecord struct {
	ID            uuid.UUID   `json:"id"`
	OwnerID       uuid.UUID   `json:"uploadedBy"`
	Name          string      `json:"-"`
	OriginalName  string      `json:"name"`
	Size          int64       `json:"size"`
	ContentType   string      `json:"type"`
	StorageKey    string      `json:"-"`
	AccessToken   string      `json:"accessToken"`
	ExpiresAt     time.Time   `json:"expiryTimestamp"`
	MaxDownloads  int         `json:"maxDownloads"`
	UsedDownloads int         `json:"usedDownloads"`
	Status        ShareStatus `json:"status"`
	Visibility    Visibility  `json:"visibility"`
	UploadedAt    time.Time   `json:"uploadedAt"`
}

func (f *FileRecord) Revoked() bool {
	return f.Status == ShareRevoked
}

// Expired reports whether the grant window has closed at now.
func (f *FileRecord) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

func (f *FileRecord) LimitReached() bool {
	return f.MaxDownloads > 0 && f.UsedDownloads >= f.MaxDownloads
}

// UploadOptions are the share settings sent with an upload.
type UploadOptions struct {
	MaxDownloads int        `form:"maxDownloads" binding:"min=0"`
	ExpiryHours  int        `form:"expiryHours" binding:"omitempty,min=1"`
	Visibility   Visibility `form:"visibility" binding:"omitempty,oneof=public private"`
}

type RegenerateRequest struct {
	ExpiryHours int `json:"expiryHours" binding:"omitempty,min=1"`
}

// FileStats backs the admin dashboard.
type FileStats struct {
	TotalFiles   int `json:"totalFiles"`
	ActiveLinks  int `json:"activeLinks"`
	ExpiredLinks int `json:"expiredLinks"`
}
