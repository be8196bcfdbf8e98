// Package domain contains core domain types for the Aexy application.
package domain

import (
	"time"
)

// Tier is a subscription level gating scenario access and daily quota.
type Tier string

const (
	// TierUnknown marks quota state that has not been loaded yet.
	// It is never treated as FREE.
	TierUnknown  Tier = ""
	TierFree     Tier = "FREE"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
)

// ParseTier converts a wire value into a Tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierStandard, TierPremium:
		return Tier(s), true
	default:
		return TierUnknown, false
	}
}

// User represents a learner and their quota counters.
type User struct {
	UserID             string    `json:"user_id"`
	Username           string    `json:"username"`
	Tier               Tier      `json:"tier"`
	ConversationsToday int       `json:"conversations_today"`
	Streak             int       `json:"streak"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// QuotaState is the per-user input to the access policy.
type QuotaState struct {
	Tier               Tier
	ConversationsToday int
	Streak             int
}

// Loaded reports whether the state carries real data.
func (q QuotaState) Loaded() bool {
	return q.Tier != TierUnknown
}

// Quota returns the user's quota state.
func (u *User) Quota() QuotaState {
	return QuotaState{
		Tier:               u.Tier,
		ConversationsToday: u.ConversationsToday,
		Streak:             u.Streak,
	}
}
