package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDownloadSuccess EventType = "download_success"
	EventDownloadBlocked EventType = "download_blocked"
	EventLinkRegenerated EventType = "link_regenerated"
	EventLinkRevoked     EventType = "link_revoked"
	EventAccessAttempt   EventType = "access_attempt"
)

type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusBlocked EventStatus = "blocked"
	StatusInfo    EventStatus = "info"
)

// ActivityEvent is an immutable, append-only record of something that
// happened to a file's share link. FileName and Client are derived when
// events are listed.
type ActivityEvent struct {
	ID        uuid.UUID   `json:"id"`
	FileID    uuid.UUID   `json:"fileId"`
	FileName  string      `json:"fileName,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"eventType"`
	Status    EventStatus `json:"status"`
	Details   string      `json:"details"`
	IPAddress string      `json:"ipAddress,omitempty"`
	UserAgent string      `json:"-"`
	Client    string      `json:"client,omitempty"`
}
