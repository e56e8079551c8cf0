// Package scoring computes the risk, activity and diversification scores of a
// portfolio. Every function here is pure: identical inputs give identical outputs.
package scoring

import (
	"math"
	"strings"

	"github.com/yourorg/omnipass/internal/model"
)

// UnknownProtocolQuality rates protocols missing from the quality table
const UnknownProtocolQuality = 50

// protocolQuality is the static 0-100 quality rating per protocol name
var protocolQuality = map[string]float64{
	model.WalletBalanceProtocol: 70,
	"Aave V3":                   90,
	"Uniswap V3":                85,
	"Compound V3":               85,
	"Curve Finance":             80,
	"Venus Protocol":            70,
}

// ProtocolQuality returns the quality rating of a protocol name
func ProtocolQuality(name string) float64 {
	if q, ok := protocolQuality[name]; ok {
		return q
	}
	return UnknownProtocolQuality
}

// Category is a coarse protocol type used for diversification
type Category string

const (
	CategoryWallet  Category = "Wallet"
	CategoryLending Category = "Lending"
	CategoryDEX     Category = "DEX"
	CategoryOther   Category = "Other"
)

// Categorize maps a protocol name onto its coarse category
func Categorize(name string) Category {
	switch {
	case name == model.WalletBalanceProtocol:
		return CategoryWallet
	case strings.Contains(name, "Aave"):
		return CategoryLending
	case strings.Contains(name, "Uniswap"):
		return CategoryDEX
	default:
		return CategoryOther
	}
}

// PortfolioMetrics are the cross-chain aggregates the score calculators share
type PortfolioMetrics struct {
	TotalTVL      float64
	ActiveChains  int
	ProtocolCount int // distinct protocol names holding value
	PositionCount int
	MaxChainShare float64 // largest single-chain share of TVL, 0 when TVL is 0
	HealthFactors []float64
}

// HasHealthData reports whether any position carried a health factor
func (m PortfolioMetrics) HasHealthData() bool {
	return len(m.HealthFactors) > 0
}

// AverageHealthFactor returns the mean defined health factor
func (m PortfolioMetrics) AverageHealthFactor() (float64, bool) {
	if len(m.HealthFactors) == 0 {
		return 0, false
	}
	var sum float64
	for _, hf := range m.HealthFactors {
		sum += hf
	}
	return sum / float64(len(m.HealthFactors)), true
}

// ComputeMetrics derives PortfolioMetrics from chain observations
func ComputeMetrics(chains []model.ChainObservation) PortfolioMetrics {
	var m PortfolioMetrics
	names := make(map[string]struct{})

	for _, c := range chains {
		m.TotalTVL += c.ValuationUSD
		if c.Active() {
			m.ActiveChains++
		}
		for _, p := range c.Protocols {
			m.PositionCount += p.PositionCount
			if p.ValuationUSD > 0 {
				names[p.Name] = struct{}{}
			}
			if p.HealthFactor != nil {
				m.HealthFactors = append(m.HealthFactors, *p.HealthFactor)
			}
		}
	}
	m.ProtocolCount = len(names)

	if m.TotalTVL > 0 {
		for _, c := range chains {
			if share := c.ValuationUSD / m.TotalTVL; share > m.MaxChainShare {
				m.MaxChainShare = share
			}
		}
	}
	return m
}

// Risk score point budgets; they sum to 100
const (
	qualityWeight = 40.0
	healthPoints  = 30.0
	agePoints     = 20.0
	sizePoints    = 10.0

	// neutralHealthPoints is awarded when no position carries a health factor
	neutralHealthPoints = 20.0
)

// HealthFactorPoints buckets one health factor into 0-30 points
func HealthFactorPoints(hf float64) float64 {
	switch {
	case hf >= 2.0:
		return 30
	case hf >= 1.5:
		return 25
	case hf >= 1.3:
		return 15
	default:
		return 5
	}
}

// RiskScore blends protocol quality (40), health factors (30), wallet age (20)
// and portfolio size (10). Higher is safer.
func RiskScore(chains []model.ChainObservation, m PortfolioMetrics, age model.WalletAge) int {
	var weighted, weight float64
	for _, c := range chains {
		for _, p := range c.Protocols {
			if p.ValuationUSD <= 0 {
				continue
			}
			weighted += ProtocolQuality(p.Name) * p.ValuationUSD
			weight += p.ValuationUSD
		}
	}
	quality := 0.0
	if weight > 0 {
		quality = weighted / weight / 100 * qualityWeight
	}

	health := neutralHealthPoints
	if m.HasHealthData() {
		var sum float64
		for _, hf := range m.HealthFactors {
			sum += HealthFactorPoints(hf)
		}
		health = sum / float64(len(m.HealthFactors))
	}

	months := float64(age.Months)
	if months < 0 {
		months = 0
	}
	ageScore := math.Min(months*2, agePoints)

	size := 0.0
	if m.TotalTVL > 0 {
		size = math.Min(m.TotalTVL/100, sizePoints)
	}

	return clamp(math.Round(quality + health + ageScore + size))
}

// ActivityScore rewards each active chain, protocol variety, position count,
// TVL magnitude and genuine lending usage.
func ActivityScore(m PortfolioMetrics) int {
	score := 30.0 * float64(m.ActiveChains)

	switch {
	case m.ProtocolCount >= 3:
		score += 25
	case m.ProtocolCount >= 2:
		score += 15
	case m.ProtocolCount >= 1:
		score += 10
	}

	switch {
	case m.PositionCount >= 5:
		score += 20
	case m.PositionCount >= 3:
		score += 15
	case m.PositionCount >= 1:
		score += 10
	}

	switch {
	case m.TotalTVL >= 5000:
		score += 15
	case m.TotalTVL >= 1000:
		score += 12
	case m.TotalTVL >= 500:
		score += 8
	case m.TotalTVL >= 100:
		score += 5
	}

	if m.HasHealthData() {
		score += 10
	}

	return clamp(score)
}

// DiversificationScore rewards chain spread (up to 65) and protocol category
// spread (up to 35).
func DiversificationScore(chains []model.ChainObservation, m PortfolioMetrics) int {
	var score float64

	switch {
	case m.ActiveChains >= 2:
		score += 50
		if m.MaxChainShare <= 0.8 {
			score += 15
		}
	case m.ActiveChains == 1:
		score += 20
	}

	categories := make(map[Category]struct{})
	for _, c := range chains {
		for _, p := range c.Protocols {
			if p.ValuationUSD > 0 {
				categories[Categorize(p.Name)] = struct{}{}
			}
		}
	}
	switch {
	case len(categories) >= 3:
		score += 35
	case len(categories) >= 2:
		score += 25
	case len(categories) >= 1:
		score += 15
	}

	return clamp(score)
}

func clamp(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
