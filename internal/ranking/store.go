package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/models"
)

// Store reads engagement snapshots and writes scores back.
type Store interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]Snapshot, error)
	UpdateScore(ctx context.Context, id string, score float64, at time.Time) error
}

// GormStore implements Store against the contents table.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("ranking: db is required")
	}
	return &GormStore{db: db}, nil
}

// Recent returns published content newer than since, newest first.
func (s *GormStore) Recent(ctx context.Context, since time.Time, limit int) ([]Snapshot, error) {
	var rows []models.Content
	if err := s.db.WithContext(ctx).
		Select("id", "views", "likes", "comments", "saves", "shares", "published_at").
		Where("status = ? AND published_at >= ?", models.ContentPublished, since).
		Order("published_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ranking: load recent content: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		if row.PublishedAt == nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			ID:          row.ID,
			Views:       row.Views,
			Likes:       row.Likes,
			Comments:    row.Comments,
			Saves:       row.Saves,
			Shares:      row.Shares,
			PublishedAt: *row.PublishedAt,
		})
	}
	return snapshots, nil
}

// UpdateScore writes only the trending columns.
func (s *GormStore) UpdateScore(ctx context.Context, id string, score float64, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"trending_score":      score,
			"trending_updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("ranking: update %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ranking: update %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Top returns the highest scored published content, for feed reads.
func (s *GormStore) Top(ctx context.Context, limit int) ([]models.Content, error) {
	var rows []models.Content
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ContentPublished).
		Order("trending_score DESC").
		Order("published_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ranking: load top content: %w", err)
	}
	return rows, nil
}
