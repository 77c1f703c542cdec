package quota

import (
	"context"
	"time"
)

// CounterKey identifies one user's counter for one action on one local day.
type CounterKey struct {
	UserID string
	Action Action
	// Day is the local calendar date formatted as YYYY-MM-DD.
	Day string
	// ExpiresAt is when the counter may be discarded.
	ExpiresAt time.Time
	// Token identifies one logical reservation. A repeated call carrying a token that
	// already took a slot reports that slot again instead of taking another.
	Token string
}

// SeedFunc returns the count a counter starts from the first time it is touched in a day.
type SeedFunc func(ctx context.Context) (int64, error)

// Counter performs the atomic increment-and-compare behind Reserve. Implementations must
// never let two concurrent callers both pass when one slot remains, and never decrement.
// Reserve is retried by the limiter, so a failed call must either leave the counter
// untouched or be safe to repeat.
type Counter interface {
	// Reserve increments the counter if it is below limit. It returns the count after the
	// call and whether a slot was taken.
	Reserve(ctx context.Context, key CounterKey, limit int, seed SeedFunc) (int64, bool, error)
}
