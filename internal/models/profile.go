package models

import (
	"time"

	"gorm.io/datatypes"
)

// Plan tiers recognised by the quota table.
const (
	PlanFree     = "free"
	PlanBasic    = "basic"
	PlanPro      = "pro"
	PlanMax      = "max"
	PlanBusiness = "business"
)

// Profile exposes the per-user attributes consumed by quotas and notifications.
type Profile struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username string `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	Plan     string `gorm:"type:varchar(16);default:'free'" json:"plan"`

	// NotificationSettings holds {"types": {"like": false, ...}}. Legacy rows may wrap
	// the object in a one-element list.
	NotificationSettings     datatypes.JSON `json:"notification_settings"`
	NotificationsPausedUntil *time.Time     `json:"notifications_paused_until"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
