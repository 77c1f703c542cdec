// Package quota enforces per-user, per-action daily limits scaled by plan tier.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/feedguard/internal/auditctx"
	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/metrics"
	"github.com/charlesng35/feedguard/pkg/retry"
)

// counterGrace keeps a day's counter around after local midnight for late readers.
const counterGrace = time.Hour

// Meta carries request details recorded alongside a denial.
type Meta struct {
	IPAddress string
	UserAgent string
}

// Limiter evaluates daily quotas. CheckDailyLimit reports the current state from the
// action tables; Reserve atomically takes a slot before an action is committed.
type Limiter struct {
	rows     RowCounter
	counter  Counter
	audit    auditctx.Sink
	location *time.Location
	failOpen bool
	policy   retry.Policy
	now      func() time.Time
	log      *zap.Logger
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithLocation sets the time zone whose midnight resets the quota.
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithFailOpen allows actions when the store cannot be reached.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithRetryPolicy overrides deadline and retry behaviour for store calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithClock overrides the clock used to find the current day.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAuditSink records denials to sink.
func WithAuditSink(sink auditctx.Sink) Option {
	return func(l *Limiter) { l.audit = sink }
}

// NewLimiter constructs a Limiter. counter may be nil, in which case Reserve is unavailable.
func NewLimiter(rows RowCounter, counter Counter, opts ...Option) (*Limiter, error) {
	if rows == nil {
		return nil, errors.New("quota: row counter is required")
	}
	l := &Limiter{
		rows:     rows,
		counter:  counter,
		location: time.Local,
		policy:   retry.DefaultPolicy(),
		now:      time.Now,
		log:      logger.WithModule("quota"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckDailyLimit counts today's rows for the action and compares against the tier limit.
// It does not reserve anything; concurrent callers may all observe the same count.
func (l *Limiter) CheckDailyLimit(ctx context.Context, userID string, action Action, tier string, meta Meta) (Decision, error) {
	limit, err := l.validate(userID, action, tier)
	if err != nil {
		return Decision{}, err
	}

	start := dayStart(l.now(), l.location)
	count, err := retry.Do(ctx, l.policy, "quota.count", func(ctx context.Context) (int64, error) {
		return l.rows.CountSince(ctx, userID, action, start)
	})
	if err != nil {
		return l.storeFailure(userID, action, limit, err)
	}

	decision := decide(count, limit)
	l.observe(ctx, userID, action, tier, meta, decision, count)
	return decision, nil
}

// Reserve takes one slot of today's quota if any remain. A granted reservation is never
// returned, even if the caller later fails to commit the action. Retried attempts carry
// the same token, so one call takes at most one slot.
func (l *Limiter) Reserve(ctx context.Context, userID string, action Action, tier string, meta Meta) (Decision, error) {
	limit, err := l.validate(userID, action, tier)
	if err != nil {
		return Decision{}, err
	}
	if l.counter == nil {
		return l.storeFailure(userID, action, limit, errors.New("quota: no reservation counter configured"))
	}

	now := l.now()
	start := dayStart(now, l.location)
	key := CounterKey{
		UserID:    userID,
		Action:    action,
		Day:       start.Format("2006-01-02"),
		ExpiresAt: start.AddDate(0, 0, 1).Add(counterGrace),
		Token:     uuid.NewString(),
	}
	seed := func(ctx context.Context) (int64, error) {
		return l.rows.CountSince(ctx, userID, action, start)
	}

	type outcome struct {
		count    int64
		reserved bool
	}
	res, err := retry.Do(ctx, l.policy, "quota.reserve", func(ctx context.Context) (outcome, error) {
		count, reserved, err := l.counter.Reserve(ctx, key, limit, seed)
		return outcome{count: count, reserved: reserved}, err
	})
	if err != nil {
		return l.storeFailure(userID, action, limit, err)
	}

	var decision Decision
	if res.reserved {
		decision = decide(res.count, limit)
		decision.Allowed = true
	} else {
		decision = Decision{Allowed: false, Remaining: 0, Limit: limit}
	}
	l.observe(ctx, userID, action, tier, meta, decision, res.count)
	return decision, nil
}

func (l *Limiter) validate(userID string, action Action, tier string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrMissingUser
	}
	return LimitFor(action, tier)
}

func (l *Limiter) storeFailure(userID string, action Action, limit int, err error) (Decision, error) {
	metrics.QuotaDecisions.WithLabelValues(string(action), "error").Inc()
	l.log.Error("quota store failure",
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.Bool("fail_open", l.failOpen),
		zap.Error(err),
	)

	if l.failOpen {
		return Decision{Allowed: true, Remaining: limit, Limit: limit}, nil
	}
	return Decision{Allowed: false, Remaining: 0, Limit: limit}, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (l *Limiter) observe(ctx context.Context, userID string, action Action, tier string, meta Meta, decision Decision, count int64) {
	if decision.Allowed {
		metrics.QuotaDecisions.WithLabelValues(string(action), "allow").Inc()
		return
	}
	metrics.QuotaDecisions.WithLabelValues(string(action), "deny").Inc()

	if l.audit == nil {
		return
	}
	l.audit.RecordAsync(ctx, auditctx.Entry{
		UserID:    userID,
		Action:    "quota.denied",
		Resource:  string(action),
		Result:    "denied",
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata: map[string]any{
			"tier":  NormalizeTier(tier),
			"limit": decision.Limit,
			"count": count,
		},
	})
}

func dayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
