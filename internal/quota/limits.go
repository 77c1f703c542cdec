package quota

import (
	"errors"
	"strings"

	"github.com/charlesng35/feedguard/internal/models"
)

// Action is a rate-limited user action.
type Action string

const (
	ActionFollow  Action = "follow"
	ActionLike    Action = "like"
	ActionComment Action = "comment"
	ActionSave    Action = "save"
	ActionShare   Action = "share"
)

// Actions lists every action with a daily limit.
var Actions = []Action{ActionFollow, ActionLike, ActionComment, ActionSave, ActionShare}

var (
	// ErrUnknownAction is returned for actions outside the limit table.
	ErrUnknownAction = errors.New("quota: unknown action")
	// ErrMissingUser is returned when no user identity is supplied.
	ErrMissingUser = errors.New("quota: user id is required")
	// ErrUnavailable wraps store failures when the limiter fails closed.
	ErrUnavailable = errors.New("quota: store unavailable")
)

// Limits maps action and plan tier to the number of actions allowed per day.
var Limits = map[Action]map[string]int{
	ActionFollow: {
		models.PlanFree: 20, models.PlanBasic: 100, models.PlanPro: 250, models.PlanMax: 500, models.PlanBusiness: 1000,
	},
	ActionLike: {
		models.PlanFree: 50, models.PlanBasic: 200, models.PlanPro: 500, models.PlanMax: 1000, models.PlanBusiness: 2000,
	},
	ActionComment: {
		models.PlanFree: 20, models.PlanBasic: 100, models.PlanPro: 300, models.PlanMax: 600, models.PlanBusiness: 1000,
	},
	ActionSave: {
		models.PlanFree: 30, models.PlanBasic: 100, models.PlanPro: 300, models.PlanMax: 600, models.PlanBusiness: 1000,
	},
	ActionShare: {
		models.PlanFree: 10, models.PlanBasic: 50, models.PlanPro: 150, models.PlanMax: 300, models.PlanBusiness: 500,
	},
}

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := Limits[action]; !ok {
		return "", ErrUnknownAction
	}
	return action, nil
}

// NormalizeTier maps unknown or empty tiers to the free plan.
func NormalizeTier(tier string) string {
	tier = strings.ToLower(strings.TrimSpace(tier))
	switch tier {
	case models.PlanFree, models.PlanBasic, models.PlanPro, models.PlanMax, models.PlanBusiness:
		return tier
	default:
		return models.PlanFree
	}
}

// LimitFor returns the daily limit for action on tier.
func LimitFor(action Action, tier string) (int, error) {
	byTier, ok := Limits[action]
	if !ok {
		return 0, ErrUnknownAction
	}
	return byTier[NormalizeTier(tier)], nil
}

// Decision is the outcome of a quota evaluation.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

func decide(count int64, limit int) Decision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < int64(limit),
		Remaining: int(remaining),
		Limit:     limit,
	}
}
