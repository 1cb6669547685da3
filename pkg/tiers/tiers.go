// Package tiers defines the product tiers for IronLayer.
// Tiers map to quota defaults, features, and pricing.
package tiers

// TierID identifies a product tier.
type TierID string

const (
	TierCommunity  TierID = "community"
	TierTeam       TierID = "team"
	TierEnterprise TierID = "enterprise"
)

// Limits defines quota defaults for a tier. A tenant-level override in
// TenantConfig takes precedence over these.
type Limits struct {
	PlanRunsMonthly    int64 // -1 = unlimited
	AICallsMonthly     int64 // -1 = unlimited
	APIRequestsMonthly int64 // -1 = unlimited
	Seats              int64 // -1 = unlimited
	Models             int64 // -1 = unlimited
}

// Tier represents a product tier with limits, features, and pricing.
type Tier struct {
	ID            TierID
	Name          string
	Description   string
	Limits        Limits
	Features      []string
	PricePerMonth int64 // cents, -1 = custom pricing
}

// All available tiers
var (
	Community = Tier{
		ID:          TierCommunity,
		Name:        "Community",
		Description: "For individuals and small projects",
		Limits: Limits{
			PlanRunsMonthly:    100,
			AICallsMonthly:     500,
			APIRequestsMonthly: 10_000,
			Seats:              1,
			Models:             5,
		},
		Features:      []string{"plan_preview", "contract_checks"},
		PricePerMonth: 0,
	}

	Team = Tier{
		ID:          TierTeam,
		Name:        "Team",
		Description: "For teams and production pipelines",
		Limits: Limits{
			PlanRunsMonthly:    1_000,
			AICallsMonthly:     5_000,
			APIRequestsMonthly: 100_000,
			Seats:              10,
			Models:             -1,
		},
		Features: []string{
			"plan_preview",
			"contract_checks",
			"ai_advisory",
			"impact_analysis",
			"column_lineage",
			"priority_support",
		},
		PricePerMonth: 9900, // $99
	}

	Enterprise = Tier{
		ID:          TierEnterprise,
		Name:        "Enterprise",
		Description: "For large organizations with compliance needs",
		Limits: Limits{
			PlanRunsMonthly:    -1, // unlimited
			AICallsMonthly:     -1,
			APIRequestsMonthly: -1,
			Seats:              -1,
			Models:             -1,
		},
		Features: []string{
			"all",
			"audit_log",
			"reconciliation",
			"schema_drift",
			"sso",
			"sla",
			"dedicated_support",
		},
		PricePerMonth: -1, // custom
	}

	// AllTiers contains all available tiers
	AllTiers = map[TierID]Tier{
		TierCommunity:  Community,
		TierTeam:       Team,
		TierEnterprise: Enterprise,
	}
)

// Get returns a tier by ID, or nil if not found.
func Get(id TierID) *Tier {
	tier, ok := AllTiers[id]
	if !ok {
		return nil
	}
	return &tier
}

// HasFeature checks if a tier has a specific feature.
func (t *Tier) HasFeature(feature string) bool {
	for _, f := range t.Features {
		if f == feature || f == "all" {
			return true
		}
	}
	return false
}

// IsUnlimited checks if a limit is unlimited (-1).
func IsUnlimited(limit int64) bool {
	return limit < 0
}
