// Package tier maps portfolio aggregates onto access tiers.
package tier

import (
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
)

// Thresholds are the TVL cut-offs per tier plus the minimum composite score
// reported to addresses that do not qualify
type Thresholds struct {
	Platinum float64
	Gold     float64
	Silver   float64
	Bronze   float64
	MinScore int
}

// Health factor and chain requirements of the upper tiers
const (
	PlatinumMinHealth = 2.0
	GoldMinHealth     = 1.5
	SilverMinHealth   = 1.3
	MultiChainMinimum = 2
)

// TestnetThresholds is the canonical table for testnet deployments
var TestnetThresholds = Thresholds{
	Platinum: 10000,
	Gold:     5000,
	Silver:   1000,
	Bronze:   100,
	MinScore: 50,
}

// MainnetThresholds is the table for mainnet deployments
var MainnetThresholds = Thresholds{
	Platinum: 100000,
	Gold:     25000,
	Silver:   5000,
	Bronze:   1000,
	MinScore: 50,
}

// ForNetwork returns the threshold table for a network mode
func ForNetwork(mode types.NetworkMode) Thresholds {
	if mode == types.NetworkMainnet {
		return MainnetThresholds
	}
	return TestnetThresholds
}

// Classify returns the access level for the given aggregates. The checks run
// from the highest tier down and the first match wins.
//
// avgHealth is the mean health factor of all lending positions; callers with
// no lending exposure pass +Inf.
func Classify(th Thresholds, totalTVL, avgHealth float64, activeChains int) model.AccessLevel {
	switch {
	case totalTVL >= th.Platinum && avgHealth >= PlatinumMinHealth && activeChains >= MultiChainMinimum:
		return model.AccessLevel{Tier: model.TierPlatinum, Qualifies: true}
	case totalTVL >= th.Gold && avgHealth >= GoldMinHealth && activeChains >= MultiChainMinimum:
		return model.AccessLevel{Tier: model.TierGold, Qualifies: true}
	case totalTVL >= th.Silver && avgHealth >= SilverMinHealth:
		return model.AccessLevel{Tier: model.TierSilver, Qualifies: true}
	case totalTVL >= th.Bronze:
		return model.AccessLevel{Tier: model.TierBronze, Qualifies: true}
	}

	requiredTVL := th.Bronze
	requiredScore := th.MinScore
	return model.AccessLevel{
		Tier:          model.TierBronze,
		Qualifies:     false,
		RequiredTVL:   &requiredTVL,
		RequiredScore: &requiredScore,
	}
}
