package quota

import (
	"testing"

	"github.com/aexy-app/aexy/internal/domain"
	"github.com/stretchr/testify/assert"
)

var (
	freeScenario    = domain.Scenario{ID: 1, Title: "Restaurant Ordering"}
	premiumScenario = domain.Scenario{ID: 3, Title: "Business Negotiation", IsPremium: true}
)

func TestLimits(t *testing.T) {
	assert.Equal(t, 3, Limit(domain.TierFree))
	assert.Equal(t, 15, Limit(domain.TierStandard))
	assert.Equal(t, UnlimitedSentinel, Limit(domain.TierPremium))
	assert.Equal(t, 0, Limit(domain.TierUnknown))

	assert.Equal(t, "3", DisplayLimit(domain.TierFree))
	assert.Equal(t, "15", DisplayLimit(domain.TierStandard))
	assert.Equal(t, "∞", DisplayLimit(domain.TierPremium))
}

func TestFreeUserAtLimitCannotStartAnything(t *testing.T) {
	q := domain.QuotaState{Tier: domain.TierFree, ConversationsToday: 3}

	assert.True(t, IsLimitReached(q))
	assert.ErrorIs(t, CheckStart(q, freeScenario), ErrLimitReached)

	a := Evaluate(q, freeScenario)
	assert.False(t, a.Startable)
	assert.True(t, a.LimitReached)
	assert.False(t, a.Locked)
}

func TestFreeUserPremiumScenarioIsLockedNotLimited(t *testing.T) {
	q := domain.QuotaState{Tier: domain.TierFree, ConversationsToday: 0}

	assert.False(t, IsLimitReached(q))
	assert.True(t, IsLockedForTier(q, premiumScenario))
	assert.ErrorIs(t, CheckStart(q, premiumScenario), ErrUpgradeRequired)

	a := Evaluate(q, premiumScenario)
	assert.Equal(t, Access{Locked: true}, a)
}

func TestLockedReportedBeforeLimit(t *testing.T) {
	q := domain.QuotaState{Tier: domain.TierFree, ConversationsToday: 5}
	assert.ErrorIs(t, CheckStart(q, premiumScenario), ErrUpgradeRequired)
}

func TestPaidTiers(t *testing.T) {
	tests := []struct {
		name string
		q    domain.QuotaState
		s    domain.Scenario
		want error
	}{
		{"standard premium scenario", domain.QuotaState{Tier: domain.TierStandard, ConversationsToday: 2}, premiumScenario, nil},
		{"standard at limit", domain.QuotaState{Tier: domain.TierStandard, ConversationsToday: 15}, freeScenario, ErrLimitReached},
		{"premium heavy user", domain.QuotaState{Tier: domain.TierPremium, ConversationsToday: 50}, premiumScenario, nil},
		{"premium at sentinel", domain.QuotaState{Tier: domain.TierPremium, ConversationsToday: UnlimitedSentinel}, freeScenario, ErrLimitReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStart(tt.q, tt.s)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestNotLoadedStateIsNeverStartable(t *testing.T) {
	var q domain.QuotaState
	assert.False(t, q.Loaded())
	assert.ErrorIs(t, CheckStart(q, freeScenario), ErrNotLoaded)
	assert.Equal(t, Access{}, Evaluate(q, freeScenario))
}
