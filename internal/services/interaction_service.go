package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/cache"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/quota"
	apperrors "github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/relation"
)

const (
	tierCachePrefix     = "profile:tier:"
	defaultTierCacheTTL = 300
	maxCommentLength    = 2000
)

// QuotaGate is the subset of quota.Limiter used by the action pipeline.
type QuotaGate interface {
	CheckDailyLimit(ctx context.Context, userID string, action quota.Action, tier string, meta quota.Meta) (quota.Decision, error)
	Reserve(ctx context.Context, userID string, action quota.Action, tier string, meta quota.Meta) (quota.Decision, error)
}

// NotificationDispatcher queues a notification candidate without blocking.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, input CreateNotificationInput)
}

// PerformInput describes a user action. TargetID is the content id, or the followee for follows.
type PerformInput struct {
	UserID   string
	Action   quota.Action
	TargetID string
	Body     string
	Meta     quota.Meta
}

// PerformResult reports the stored action and the quota state after it.
type PerformResult struct {
	ID       string         `json:"id,omitempty"`
	Action   quota.Action   `json:"action"`
	TargetID string         `json:"target_id"`
	Quota    quota.Decision `json:"quota"`
}

// InteractionService runs the action pipeline: reserve quota, persist the action row,
// bump the engagement counter and notify the affected user.
type InteractionService struct {
	db            *gorm.DB
	quota         QuotaGate
	notifications NotificationDispatcher
	tiers         *cache.Expiring
	tierTTL       int
	log           *zap.Logger
}

// NewInteractionService constructs an InteractionService. notifications may be nil.
func NewInteractionService(db *gorm.DB, gate QuotaGate, notifications NotificationDispatcher, tiers *cache.Expiring) (*InteractionService, error) {
	if db == nil {
		return nil, errors.New("interaction service: db is required")
	}
	if gate == nil {
		return nil, errors.New("interaction service: quota gate is required")
	}
	if tiers == nil {
		tiers = cache.NewExpiring(cache.DefaultMaxEntries)
	}
	return &InteractionService{
		db:            db,
		quota:         gate,
		notifications: notifications,
		tiers:         tiers,
		tierTTL:       defaultTierCacheTTL,
		log:           logger.WithModule("interactions"),
	}, nil
}

// Tier returns the user's plan, cached briefly. Users without a profile are on the free plan.
func (s *InteractionService) Tier(ctx context.Context, userID string) (string, error) {
	ctx = ensureContext(ctx)
	return cache.Cached(ctx, s.tiers, tierCachePrefix+userID, s.tierTTL, func(ctx context.Context) (string, error) {
		var plans []string
		if err := s.db.WithContext(ctx).
			Model(&models.Profile{}).
			Where("id = ?", userID).
			Limit(1).
			Pluck("plan", &plans).Error; err != nil {
			return "", fmt.Errorf("interaction service: load tier: %w", err)
		}
		plan, _ := relation.First(plans)
		return quota.NormalizeTier(plan), nil
	})
}

// QuotaStatus reports the remaining allowance for action without reserving.
func (s *InteractionService) QuotaStatus(ctx context.Context, userID string, action quota.Action, meta quota.Meta) (quota.Decision, error) {
	ctx = ensureContext(ctx)

	tier, err := s.Tier(ctx, userID)
	if err != nil {
		return quota.Decision{}, apperrors.ErrServiceUnavailable.WithInternal(err)
	}
	decision, err := s.quota.CheckDailyLimit(ctx, userID, action, tier, meta)
	if err != nil {
		return decision, mapQuotaError(err)
	}
	return decision, nil
}

// Perform validates the target, reserves a quota slot and commits the action. A denied
// reservation returns the decision together with apperrors.ErrQuotaExceeded.
func (s *InteractionService) Perform(ctx context.Context, input PerformInput) (*PerformResult, error) {
	ctx = ensureContext(ctx)
	input.UserID = strings.TrimSpace(input.UserID)
	input.TargetID = strings.TrimSpace(input.TargetID)
	input.Body = strings.TrimSpace(input.Body)

	if input.UserID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if _, err := quota.LimitFor(input.Action, ""); err != nil {
		return nil, mapQuotaError(err)
	}
	if input.TargetID == "" {
		return nil, apperrors.NewBadRequest("target_id is required")
	}

	recipient, err := s.resolveRecipient(ctx, input)
	if err != nil {
		return nil, err
	}

	tier, err := s.Tier(ctx, input.UserID)
	if err != nil {
		return nil, apperrors.ErrServiceUnavailable.WithInternal(err)
	}

	decision, err := s.quota.Reserve(ctx, input.UserID, input.Action, tier, input.Meta)
	result := &PerformResult{Action: input.Action, TargetID: input.TargetID, Quota: decision}
	if err != nil {
		return result, mapQuotaError(err)
	}
	if !decision.Allowed {
		return result, apperrors.ErrQuotaExceeded
	}

	id, err := s.commit(ctx, input)
	if err != nil {
		return result, err
	}
	result.ID = id

	s.notify(ctx, input, recipient)
	return result, nil
}

// resolveRecipient checks the target exists before any quota is spent and returns the
// user to notify.
func (s *InteractionService) resolveRecipient(ctx context.Context, input PerformInput) (string, error) {
	if input.Action == quota.ActionFollow {
		if input.TargetID == input.UserID {
			return "", apperrors.NewBadRequest("cannot follow yourself")
		}
		return input.TargetID, nil
	}

	if input.Action == quota.ActionComment {
		if input.Body == "" {
			return "", apperrors.NewBadRequest("comment body is required")
		}
		if len(input.Body) > maxCommentLength {
			return "", apperrors.NewBadRequest("comment body is too long")
		}
	}

	var authors []string
	if err := s.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ? AND status = ?", input.TargetID, models.ContentPublished).
		Limit(1).
		Pluck("author_id", &authors).Error; err != nil {
		return "", fmt.Errorf("interaction service: load content: %w", err)
	}
	author, ok := relation.First(authors)
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return author, nil
}

func (s *InteractionService) commit(ctx context.Context, input PerformInput) (string, error) {
	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch input.Action {
		case quota.ActionFollow:
			row := models.Follow{FollowerID: input.UserID, FolloweeID: input.TargetID}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
			return nil
		case quota.ActionLike:
			row := models.Like{UserID: input.UserID, ContentID: input.TargetID}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		case quota.ActionComment:
			row := models.Comment{UserID: input.UserID, ContentID: input.TargetID, Body: input.Body}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		case quota.ActionSave:
			row := models.Save{UserID: input.UserID, ContentID: input.TargetID}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		case quota.ActionShare:
			row := models.Share{UserID: input.UserID, ContentID: input.TargetID}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			id = row.ID
		default:
			return quota.ErrUnknownAction
		}

		column := engagementColumn(input.Action)
		return tx.Model(&models.Content{}).
			Where("id = ?", input.TargetID).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	})
	if err != nil {
		return "", fmt.Errorf("interaction service: record %s: %w", input.Action, err)
	}
	return id, nil
}

func (s *InteractionService) notify(ctx context.Context, input PerformInput, recipient string) {
	if s.notifications == nil || recipient == "" {
		return
	}

	candidate := CreateNotificationInput{
		UserID:  recipient,
		ActorID: input.UserID,
		Type:    string(input.Action),
	}
	if input.Action != quota.ActionFollow {
		candidate.ObjectType = "content"
		candidate.ObjectID = input.TargetID
	}
	if input.Action == quota.ActionComment {
		candidate.Content = input.Body
	}
	s.notifications.Dispatch(ctx, candidate)
}

func engagementColumn(action quota.Action) string {
	switch action {
	case quota.ActionLike:
		return "likes"
	case quota.ActionComment:
		return "comments"
	case quota.ActionSave:
		return "saves"
	case quota.ActionShare:
		return "shares"
	default:
		return ""
	}
}

func mapQuotaError(err error) error {
	switch {
	case errors.Is(err, quota.ErrUnknownAction):
		return apperrors.NewBadRequest("unknown action")
	case errors.Is(err, quota.ErrMissingUser):
		return apperrors.ErrUnauthorized
	case errors.Is(err, quota.ErrUnavailable):
		return apperrors.ErrServiceUnavailable.WithInternal(err)
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
