package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/realtime"
	apperrors "github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/metrics"
	"github.com/charlesng35/feedguard/pkg/relation"
	"github.com/charlesng35/feedguard/pkg/retry"
)

// Outcome describes what Create did with a notification candidate.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeSkippedSelf      Outcome = "skipped_self"
	OutcomeSkippedPaused    Outcome = "skipped_paused"
	OutcomeSkippedMuted     Outcome = "skipped_muted"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeFailed           Outcome = "failed"
)

// Notification types referenced by the action pipeline.
const (
	NotificationLike          = "like"
	NotificationComment       = "comment"
	NotificationSave          = "save"
	NotificationShare         = "share"
	NotificationFollow        = "follow"
	NotificationMilestone     = "milestone"
	NotificationSystem        = "system"
	NotificationCoinsEarned   = "coins_earned"
	NotificationPremiumExpiry = "premium_expired"
)

// SelfNotifyAllowed lists the types a user may receive about their own activity.
var SelfNotifyAllowed = map[string]struct{}{
	NotificationMilestone:     {},
	NotificationSystem:        {},
	NotificationCoinsEarned:   {},
	NotificationPremiumExpiry: {},
}

const (
	duplicateWindow         = 24 * time.Hour
	defaultDispatchTimeout  = 5 * time.Second
	defaultNotificationPage = 25
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ActorID    string     `json:"actor_id"`
	Type       string     `json:"type"`
	ObjectType string     `json:"object_type,omitempty"`
	ObjectID   string     `json:"object_id,omitempty"`
	Content    string     `json:"content,omitempty"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// CreateNotificationInput describes a notification candidate. ObjectID narrows duplicate
// detection to a single target when set.
type CreateNotificationInput struct {
	UserID     string
	ActorID    string
	Type       string
	ObjectType string
	ObjectID   string
	Content    string
}

func (in CreateNotificationInput) normalised() CreateNotificationInput {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.ObjectType = strings.TrimSpace(in.ObjectType)
	in.ObjectID = strings.TrimSpace(in.ObjectID)
	return in
}

func (in CreateNotificationInput) dedupKey() string {
	return strings.Join([]string{in.UserID, in.ActorID, in.Type, in.ObjectID}, "|")
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	Limit      int
	Offset     int
	UnreadOnly bool
}

// NotificationEventPayload represents data sent to realtime consumers.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notification_id,omitempty"`
}

type notificationPreferences struct {
	Types map[string]bool `json:"types"`
}

// NotificationService persists in-app notifications after suppressing self, paused,
// muted and duplicate candidates.
type NotificationService struct {
	db       *gorm.DB
	hub      realtime.Publisher
	now      func() time.Time
	timeout  time.Duration
	policy   retry.Policy
	log      *zap.Logger
	flight   singleflight.Group
	inflight sync.WaitGroup
}

// NotificationOption customises a NotificationService.
type NotificationOption func(*NotificationService)

// WithNotificationClock overrides the clock used for pause and duplicate windows.
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDispatchTimeout bounds each Dispatch call.
func WithDispatchTimeout(timeout time.Duration) NotificationOption {
	return func(s *NotificationService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithNotificationRetryPolicy overrides the deadline and retry applied to the suppression reads.
// The insert runs once under the same per-attempt deadline.
func WithNotificationRetryPolicy(p retry.Policy) NotificationOption {
	return func(s *NotificationService) {
		if p.Timeout > 0 {
			s.policy = p
		}
	}
}

// NewNotificationService constructs a NotificationService. hub may be nil.
func NewNotificationService(db *gorm.DB, hub realtime.Publisher, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	svc := &NotificationService{
		db:      db,
		hub:     hub,
		now:     time.Now,
		timeout: defaultDispatchTimeout,
		policy:  retry.DefaultPolicy(),
		log:     logger.WithModule("notifications"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create evaluates the candidate and inserts it when no suppression rule applies.
// Identical candidates in flight at the same time share a single evaluation.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (Outcome, error) {
	ctx = ensureContext(ctx)
	input = input.normalised()

	switch {
	case input.UserID == "":
		return OutcomeFailed, errors.New("notification service: user id is required")
	case input.ActorID == "":
		return OutcomeFailed, errors.New("notification service: actor id is required")
	case input.Type == "":
		return OutcomeFailed, errors.New("notification service: type is required")
	}

	result, err, _ := s.flight.Do(input.dedupKey(), func() (any, error) {
		return s.evaluate(ctx, input)
	})
	outcome, _ := result.(Outcome)
	if outcome == "" {
		outcome = OutcomeFailed
	}
	return outcome, err
}

func (s *NotificationService) evaluate(ctx context.Context, input CreateNotificationInput) (Outcome, error) {
	if input.UserID == input.ActorID {
		if _, allowed := SelfNotifyAllowed[input.Type]; !allowed {
			return OutcomeSkippedSelf, nil
		}
	}

	now := s.now()

	profile, err := retry.Do(ctx, s.policy, "notifications.profile", func(ctx context.Context) (*models.Profile, error) {
		return s.loadProfile(ctx, input.UserID)
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if profile != nil {
		if paused := profile.NotificationsPausedUntil; paused != nil && paused.After(now) {
			return OutcomeSkippedPaused, nil
		}
		if s.muted(profile, input.Type) {
			return OutcomeSkippedMuted, nil
		}
	}

	duplicate, err := retry.Do(ctx, s.policy, "notifications.dedup", func(ctx context.Context) (bool, error) {
		return s.hasRecent(ctx, input, now.Add(-duplicateWindow))
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if duplicate {
		return OutcomeSkippedDuplicate, nil
	}

	notification := models.Notification{
		UserID:     input.UserID,
		ActorID:    input.ActorID,
		Type:       input.Type,
		ObjectType: stringPtr(input.ObjectType),
		ObjectID:   stringPtr(input.ObjectID),
		Content:    stringPtr(input.Content),
	}
	notification.CreatedAt = now

	// Not retried: a lost acknowledgement would insert twice.
	insertCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()
	if err := s.db.WithContext(insertCtx).Create(&notification).Error; err != nil {
		return OutcomeFailed, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	s.broadcast(input.UserID, realtime.EventNotificationCreated, &NotificationEventPayload{Notification: &dto})
	return OutcomeCreated, nil
}

func (s *NotificationService) loadProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.WithContext(ctx).
		Select("id", "notification_settings", "notifications_paused_until").
		Where("id = ?", userID).
		Limit(1).
		Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("notification service: load profile: %w", err)
	}
	profile, ok := relation.First(profiles)
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// muted reports whether the type is explicitly disabled. Unreadable settings mute nothing.
func (s *NotificationService) muted(profile *models.Profile, notificationType string) bool {
	prefs, ok, err := relation.One[notificationPreferences](profile.NotificationSettings)
	if err != nil {
		s.log.Debug("ignoring unreadable notification settings", zap.String("user_id", profile.ID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	enabled, set := prefs.Types[notificationType]
	return set && !enabled
}

func (s *NotificationService) hasRecent(ctx context.Context, input CreateNotificationInput, since time.Time) (bool, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND actor_id = ? AND type = ? AND created_at >= ?", input.UserID, input.ActorID, input.Type, since)
	if input.ObjectID != "" {
		query = query.Where("object_id = ?", input.ObjectID)
	}

	var ids []string
	if err := query.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, fmt.Errorf("notification service: check duplicate: %w", err)
	}
	_, found := relation.First(ids)
	return found, nil
}

// Dispatch runs Create in the background with its own deadline. The outcome is logged
// and counted; the caller is never blocked or cancelled into a partial write.
func (s *NotificationService) Dispatch(ctx context.Context, input CreateNotificationInput) {
	if s == nil {
		return
	}
	detached := context.WithoutCancel(ensureContext(ctx))

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		callCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()

		outcome, err := s.Create(callCtx, input)
		metrics.Notifications.WithLabelValues(string(outcome)).Inc()

		fields := []zap.Field{
			zap.String("outcome", string(outcome)),
			zap.String("type", input.Type),
			zap.String("user_id", input.UserID),
			zap.String("actor_id", input.ActorID),
		}
		if err != nil {
			s.log.Warn("notification dispatch failed", append(fields, zap.Error(err))...)
			return
		}
		s.log.Debug("notification dispatched", fields...)
	}()
}

// Wait blocks until every pending Dispatch call has finished.
func (s *NotificationService) Wait() {
	if s == nil {
		return
	}
	s.inflight.Wait()
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultNotificationPage
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// MarkRead sets the read flag on a notification owned by userID.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	if !notification.IsRead {
		now := s.now().UTC()
		if err := s.db.WithContext(ctx).Model(&notification).
			Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", err)
		}
		notification.IsRead = true
		notification.ReadAt = &now
	}

	dto := mapNotification(notification)
	s.broadcast(userID, realtime.EventNotificationRead, &NotificationEventPayload{
		Notification:   &dto,
		NotificationID: notification.ID,
	})
	return &dto, nil
}

// MarkAllRead marks every unread notification of the user as read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("notification service: user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": s.now().UTC()})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcast(userID, realtime.EventNotificationRead, nil)
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) broadcast(userID, event string, payload *NotificationEventPayload) {
	if s.hub == nil {
		return
	}
	message := realtime.Message{Event: event}
	if payload != nil {
		message.Data = payload
	}
	s.hub.BroadcastToUser(realtime.StreamNotifications, userID, message)
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:         row.ID,
		UserID:     row.UserID,
		ActorID:    row.ActorID,
		Type:       row.Type,
		ObjectType: derefString(row.ObjectType),
		ObjectID:   derefString(row.ObjectID),
		Content:    derefString(row.Content),
		IsRead:     row.IsRead,
		CreatedAt:  row.CreatedAt,
		ReadAt:     row.ReadAt,
	}
}
