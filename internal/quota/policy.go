// Package quota decides whether a learner may start a practice session.
package quota

import (
	"errors"
	"strconv"

	"github.com/aexy-app/aexy/internal/domain"
)

// UnlimitedSentinel stands in for "no limit" on the premium tier.
const UnlimitedSentinel = 999

var (
	// ErrUpgradeRequired means the scenario is premium and the tier is FREE.
	ErrUpgradeRequired = errors.New("upgrade required")
	// ErrLimitReached means the daily conversation quota is used up.
	ErrLimitReached = errors.New("daily limit reached")
	// ErrNotLoaded means the quota state has not been loaded yet.
	ErrNotLoaded = errors.New("quota state not loaded")
)

var limits = map[domain.Tier]int{
	domain.TierFree:     3,
	domain.TierStandard: 15,
	domain.TierPremium:  UnlimitedSentinel,
}

// Limit returns the daily conversation limit for a tier. Unknown tiers get 0.
func Limit(tier domain.Tier) int {
	return limits[tier]
}

// DisplayLimit renders the limit the way the dashboard shows it.
func DisplayLimit(tier domain.Tier) string {
	l := Limit(tier)
	if l == UnlimitedSentinel {
		return "∞"
	}
	return strconv.Itoa(l)
}

// IsLimitReached reports whether the daily quota is used up.
func IsLimitReached(q domain.QuotaState) bool {
	return q.ConversationsToday >= Limit(q.Tier)
}

// IsLockedForTier reports whether the scenario requires a higher tier.
func IsLockedForTier(q domain.QuotaState, s domain.Scenario) bool {
	return q.Tier == domain.TierFree && s.IsPremium
}

// Access describes how a scenario card should be presented.
type Access struct {
	Startable    bool `json:"startable"`
	Locked       bool `json:"locked"`
	LimitReached bool `json:"limit_reached"`
}

// Evaluate computes the access state for one scenario.
func Evaluate(q domain.QuotaState, s domain.Scenario) Access {
	if !q.Loaded() {
		return Access{}
	}
	a := Access{
		Locked:       IsLockedForTier(q, s),
		LimitReached: IsLimitReached(q),
	}
	a.Startable = !a.Locked && !a.LimitReached
	return a
}

// CheckStart returns nil when a session may start. A locked scenario is
// reported before an exhausted quota so the caller shows the upgrade prompt.
func CheckStart(q domain.QuotaState, s domain.Scenario) error {
	if !q.Loaded() {
		return ErrNotLoaded
	}
	if IsLockedForTier(q, s) {
		return ErrUpgradeRequired
	}
	if IsLimitReached(q) {
		return ErrLimitReached
	}
	return nil
}
