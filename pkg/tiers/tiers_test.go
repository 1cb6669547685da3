package tiers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ironlayer/ironlayer/pkg/tiers"
)

func TestTiers_Get(t *testing.T) {
	tests := []struct {
		id       tiers.TierID
		expected string
	}{
		{tiers.TierCommunity, "Community"},
		{tiers.TierTeam, "Team"},
		{tiers.TierEnterprise, "Enterprise"},
	}

	for _, tt := range tests {
		tier := tiers.Get(tt.id)
		assert.NotNil(t, tier)
		assert.Equal(t, tt.expected, tier.Name)
	}
}

func TestTiers_GetUnknown(t *testing.T) {
	tier := tiers.Get("unknown-tier")
	assert.Nil(t, tier)
}

func TestTiers_CommunityLimits(t *testing.T) {
	tier := tiers.Community
	assert.Equal(t, int64(100), tier.Limits.PlanRunsMonthly)
	assert.Equal(t, int64(500), tier.Limits.AICallsMonthly)
	assert.Equal(t, int64(10_000), tier.Limits.APIRequestsMonthly)
	assert.Equal(t, int64(1), tier.Limits.Seats)
	assert.Equal(t, int64(5), tier.Limits.Models)
}

func TestTiers_TeamLimits(t *testing.T) {
	tier := tiers.Team
	assert.Equal(t, int64(1_000), tier.Limits.PlanRunsMonthly)
	assert.Equal(t, int64(5_000), tier.Limits.AICallsMonthly)
	assert.Equal(t, int64(100_000), tier.Limits.APIRequestsMonthly)
	assert.Equal(t, int64(10), tier.Limits.Seats)
	assert.True(t, tiers.IsUnlimited(tier.Limits.Models))
	assert.Equal(t, int64(9900), tier.PricePerMonth)
}

func TestTiers_EnterpriseUnlimited(t *testing.T) {
	tier := tiers.Enterprise
	assert.True(t, tiers.IsUnlimited(tier.Limits.PlanRunsMonthly))
	assert.True(t, tiers.IsUnlimited(tier.Limits.AICallsMonthly))
	assert.True(t, tiers.IsUnlimited(tier.Limits.APIRequestsMonthly))
	assert.True(t, tiers.IsUnlimited(tier.Limits.Seats))
	assert.True(t, tiers.IsUnlimited(tier.Limits.Models))
}

func TestTiers_HasFeature(t *testing.T) {
	// Community tier
	assert.True(t, tiers.Community.HasFeature("plan_preview"))
	assert.False(t, tiers.Community.HasFeature("ai_advisory"))

	// Team tier
	assert.True(t, tiers.Team.HasFeature("ai_advisory"))
	assert.False(t, tiers.Team.HasFeature("audit_log"))

	// Enterprise has "all"
	assert.True(t, tiers.Enterprise.HasFeature("audit_log"))
	assert.True(t, tiers.Enterprise.HasFeature("any_feature")) // "all" matches anything
}

func TestTiers_AllTiers(t *testing.T) {
	assert.Len(t, tiers.AllTiers, 3)
	assert.Contains(t, tiers.AllTiers, tiers.TierCommunity)
	assert.Contains(t, tiers.AllTiers, tiers.TierTeam)
	assert.Contains(t, tiers.AllTiers, tiers.TierEnterprise)
}
