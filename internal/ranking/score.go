// Package ranking recomputes decayed trending scores for recently published content.
package ranking

import (
	"math"
	"time"
)

// Engagement weights and recency boosts.
const (
	likeWeight    = 2
	commentWeight = 5
	saveWeight    = 10
	shareWeight   = 8

	decayOffsetHours = 2
	decayExponent    = 1.2

	freshBoostHours = 6
	freshBoost      = 200
	dayBoostHours   = 24
	dayBoost        = 50
)

// Snapshot is the engagement state of one content item at scoring time.
type Snapshot struct {
	ID          string
	Views       int64
	Likes       int64
	Comments    int64
	Saves       int64
	Shares      int64
	PublishedAt time.Time
}

// Score returns the trending score of s at now, rounded to two decimals. Items published
// in the future are scored as if just published.
func Score(s Snapshot, now time.Time) float64 {
	engagement := float64(s.Likes*likeWeight + s.Comments*commentWeight + s.Saves*saveWeight + s.Shares*shareWeight)

	var rate float64
	if s.Views > 0 {
		rate = engagement / float64(s.Views) * 100
	}

	hours := now.Sub(s.PublishedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	decay := math.Pow(hours+decayOffsetHours, decayExponent)

	score := (engagement + rate) * 100 / decay
	switch {
	case hours < freshBoostHours:
		score += freshBoost
	case hours < dayBoostHours:
		score += dayBoost
	}
	return math.Round(score*100) / 100
}
