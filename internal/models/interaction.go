package models

// Like, Comment, Save and Share are the per-user action tables counted by the daily quota.

type Like struct {
	BaseModel
	UserID    string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ContentID string `gorm:"type:varchar(64);not null;index" json:"content_id"`
}

type Comment struct {
	BaseModel
	UserID    string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ContentID string `gorm:"type:varchar(64);not null;index" json:"content_id"`
	Body      string `gorm:"type:text" json:"body"`
}

type Save struct {
	BaseModel
	UserID    string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ContentID string `gorm:"type:varchar(64);not null;index" json:"content_id"`
}

type Share struct {
	BaseModel
	UserID    string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ContentID string `gorm:"type:varchar(64);not null;index" json:"content_id"`
}

// Follow is keyed by the follower for quota purposes.
type Follow struct {
	BaseModel
	FollowerID string `gorm:"type:varchar(64);not null;index" json:"follower_id"`
	FolloweeID string `gorm:"type:varchar(64);not null;index" json:"followee_id"`
}
