package models

import (
	"time"
)

// Content statuses.
const (
	ContentDraft     = "draft"
	ContentPublished = "published"
)

// Content carries the engagement counters read by the trending ranker. Counters are
// maintained by the action endpoints; the ranker only writes the trending columns.
type Content struct {
	BaseModel

	AuthorID    string     `gorm:"type:varchar(64);not null;index" json:"author_id"`
	Title       string     `gorm:"type:varchar(255)" json:"title"`
	Status      string     `gorm:"type:varchar(16);not null;default:'draft';index:idx_content_published,priority:1" json:"status"`
	PublishedAt *time.Time `gorm:"index:idx_content_published,priority:2" json:"published_at"`

	Views    int64 `gorm:"not null;default:0" json:"views"`
	Likes    int64 `gorm:"not null;default:0" json:"likes"`
	Comments int64 `gorm:"not null;default:0" json:"comments"`
	Saves    int64 `gorm:"not null;default:0" json:"saves"`
	Shares   int64 `gorm:"not null;default:0" json:"shares"`

	TrendingScore     float64    `gorm:"not null;default:0;index" json:"trending_score"`
	TrendingUpdatedAt *time.Time `json:"trending_updated_at,omitempty"`
}

// TableName keeps the table name singular-agnostic across dialects.
func (Content) TableName() string {
	return "contents"
}
