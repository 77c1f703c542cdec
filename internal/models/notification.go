package models

import (
	"time"
)

// Notification is an in-app notice delivered to UserID about something ActorID did.
// Duplicate suppression relies on the composite index, not a uniqueness constraint.
type Notification struct {
	BaseModel

	UserID     string  `gorm:"type:varchar(64);not null;index:idx_notifications_dedup,priority:1" json:"user_id"`
	ActorID    string  `gorm:"type:varchar(64);not null;index:idx_notifications_dedup,priority:2" json:"actor_id"`
	Type       string  `gorm:"type:varchar(64);not null;index:idx_notifications_dedup,priority:3" json:"type"`
	ObjectType *string `gorm:"type:varchar(32)" json:"object_type,omitempty"`
	ObjectID   *string `gorm:"type:varchar(64)" json:"object_id,omitempty"`
	Content    *string `gorm:"type:text" json:"content,omitempty"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
