package models

import "time"

// ActionCounter is the atomic per-day counter behind quota reservations. Day is the
// local calendar date (YYYY-MM-DD) the count belongs to.
type ActionCounter struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)"`
	Action    string    `gorm:"primaryKey;type:varchar(16)"`
	Day       string    `gorm:"primaryKey;type:varchar(10)"`
	Count     int64     `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
