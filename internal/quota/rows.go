package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/models"
)

// RowCounter counts a user's actions recorded since a point in time.
type RowCounter interface {
	CountSince(ctx context.Context, userID string, action Action, since time.Time) (int64, error)
}

// GormRowCounter counts rows in the action tables.
type GormRowCounter struct {
	db *gorm.DB
}

// NewGormRowCounter constructs a RowCounter backed by the primary database.
func NewGormRowCounter(db *gorm.DB) (*GormRowCounter, error) {
	if db == nil {
		return nil, errors.New("quota: db is required")
	}
	return &GormRowCounter{db: db}, nil
}

type actionTable struct {
	model  any
	column string
}

var actionTables = map[Action]actionTable{
	ActionFollow:  {model: &models.Follow{}, column: "follower_id"},
	ActionLike:    {model: &models.Like{}, column: "user_id"},
	ActionComment: {model: &models.Comment{}, column: "user_id"},
	ActionSave:    {model: &models.Save{}, column: "user_id"},
	ActionShare:   {model: &models.Share{}, column: "user_id"},
}

// CountSince implements RowCounter.
func (c *GormRowCounter) CountSince(ctx context.Context, userID string, action Action, since time.Time) (int64, error) {
	table, ok := actionTables[action]
	if !ok {
		return 0, ErrUnknownAction
	}

	var count int64
	err := c.db.WithContext(ctx).
		Model(table.model).
		Where(table.column+" = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("quota: count %s rows: %w", action, err)
	}
	return count, nil
}
