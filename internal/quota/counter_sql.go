package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/pkg/retry"
)

// SQLCounter keeps reservation counters in the action_counters table. The increment is a
// single conditional UPDATE, so the database's row atomicity decides the boundary.
// Reservation tokens are not persisted; retry safety comes from the transaction.
type SQLCounter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLCounter constructs a Counter backed by the primary database.
func NewSQLCounter(db *gorm.DB) (*SQLCounter, error) {
	if db == nil {
		return nil, errors.New("quota: db is required")
	}
	return &SQLCounter{db: db, now: time.Now}, nil
}

var _ Counter = (*SQLCounter)(nil)

// Reserve implements Counter. The increment and the read of the new count share one
// transaction, so any failure before commit leaves the counter untouched. A failed commit
// may have been applied and is reported as permanent.
func (c *SQLCounter) Reserve(ctx context.Context, key CounterKey, limit int, seed SeedFunc) (int64, bool, error) {
	count, reserved, found, err := c.take(ctx, key, limit)
	if err != nil || found {
		return count, reserved, err
	}

	if err := c.seed(ctx, key, seed); err != nil {
		return 0, false, err
	}
	count, reserved, _, err = c.take(ctx, key, limit)
	return count, reserved, err
}

// take increments today's row when it is below limit and returns the stored count. found
// is false when the row does not exist yet.
func (c *SQLCounter) take(ctx context.Context, key CounterKey, limit int) (int64, bool, bool, error) {
	var (
		row        models.ActionCounter
		reserved   bool
		found      bool
		committing bool
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ActionCounter{}).
			Where("user_id = ? AND action = ? AND day = ? AND count < ?", key.UserID, string(key.Action), key.Day, limit).
			Updates(map[string]any{
				"count":      gorm.Expr("count + 1"),
				"updated_at": c.now(),
			})
		if result.Error != nil {
			return fmt.Errorf("quota: increment counter: %w", result.Error)
		}
		reserved = result.RowsAffected == 1

		err := tx.Where("user_id = ? AND action = ? AND day = ?", key.UserID, string(key.Action), key.Day).
			Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			found = false
		case err != nil:
			return fmt.Errorf("quota: load counter: %w", err)
		default:
			found = true
		}
		committing = true
		return nil
	})
	if err != nil {
		if committing {
			return 0, false, false, retry.Permanent(fmt.Errorf("quota: commit counter: %w", err))
		}
		return 0, false, false, err
	}
	return row.Count, reserved, found, nil
}

// seed creates today's row from the action-table count. A concurrent seeder that wins the
// insert leaves this one as a no-op.
func (c *SQLCounter) seed(ctx context.Context, key CounterKey, seed SeedFunc) error {
	var start int64
	if seed != nil {
		count, err := seed(ctx)
		if err != nil {
			return err
		}
		start = count
	}

	row := models.ActionCounter{
		UserID:    key.UserID,
		Action:    string(key.Action),
		Day:       key.Day,
		Count:     start,
		ExpiresAt: key.ExpiresAt,
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("quota: seed counter: %w", err)
	}
	return nil
}

// PurgeExpired removes counters that expired before cutoff.
func (c *SQLCounter) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := c.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.ActionCounter{})
	if result.Error != nil {
		return 0, fmt.Errorf("quota: purge counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}
