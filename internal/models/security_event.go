package models

import (
	"time"

	"gorm.io/datatypes"
)

// SecurityEvent is one audit record: a denial, a detection, or degraded
// operation. Context carries the event-specific fields as JSON.
type SecurityEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Event   string         `gorm:"type:text;not null;index"` // Event name, e.g. ratelimit.denied.
	Subject string         `gorm:"type:text;index"`          // Subject identifier (kind:value).
	Context datatypes.JSON // Event-specific fields.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
