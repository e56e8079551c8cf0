// Package model defines the core data structures for OmniPass.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/omnipass/internal/types"
)

// Address is a canonical (lower-case, 0x-prefixed, 40 hex digit) account identifier.
// Use validation.ParseAddress to construct one from user input.
type Address string

// String returns the address text
func (a Address) String() string {
	return string(a)
}

// DefaultTokenDecimals applies to tokens whose metadata did not report decimals
const DefaultTokenDecimals = 18

// WalletBalanceProtocol is the synthetic position name for plain wallet holdings
const WalletBalanceProtocol = "Wallet Balance"

// TokenHolding is a single ERC-20 balance in the token's smallest unit
type TokenHolding struct {
	ContractAddress string   `json:"contractAddress"`
	RawAmount       *big.Int `json:"rawAmount"`

	// Decimals is nil when the token metadata did not report it
	Decimals *int   `json:"decimals,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
}

// DecimalPlaces returns the token's decimals, defaulting to 18
func (h TokenHolding) DecimalPlaces() int {
	if h.Decimals == nil {
		return DefaultTokenDecimals
	}
	return *h.Decimals
}

// IsZero reports whether the holding carries no balance
func (h TokenHolding) IsZero() bool {
	return h.RawAmount == nil || h.RawAmount.Sign() <= 0
}

// ProtocolPosition is a DeFi-style position observed or synthesized on a chain
type ProtocolPosition struct {
	Name          string  `json:"name"`
	ValuationUSD  float64 `json:"valuationUsd"`
	PositionCount int     `json:"positionCount"`

	// HealthFactor is nil when the position carries no liquidation risk
	HealthFactor *float64 `json:"healthFactor,omitempty"`
}

// ChainObservation is one network's state for one address at one point in time
type ChainObservation struct {
	ChainID       types.ChainID      `json:"chainId"`
	Name          string             `json:"name"`
	NativeSymbol  string             `json:"nativeSymbol"`
	NativeBalance decimal.Decimal    `json:"nativeBalance"`
	NativePrice   float64            `json:"nativePriceUsd"`
	TokenHoldings []TokenHolding     `json:"tokenHoldings"`
	ValuationUSD  float64            `json:"valuationUsd"`
	Protocols     []ProtocolPosition `json:"protocols"`
}

// Active reports whether the chain holds any value
func (c ChainObservation) Active() bool {
	return c.ValuationUSD > 0
}

// Insights is the human-readable commentary attached to an analysis
type Insights struct {
	Summary         string   `json:"summary"`
	Reasoning       []string `json:"reasoning"`
	Recommendations []string `json:"recommendations"`
	RiskFactors     []string `json:"riskFactors"`
}

// WalletAge is the account age used by the risk score. Estimated is true when
// the value comes from the address-derived heuristic rather than on-chain history.
type WalletAge struct {
	Months    int  `json:"months"`
	Estimated bool `json:"estimated"`
}

// AccessLevel is the tier decision for an address
type AccessLevel struct {
	Tier      Tier `json:"tier"`
	Qualifies bool `json:"qualifiesForAccess"`

	// Hints attached when the address does not qualify at all
	RequiredTVL   *float64 `json:"requiredTVL,omitempty"`
	RequiredScore *int     `json:"requiredScore,omitempty"`
}

// AnalysisResult is the aggregate produced for one address
type AnalysisResult struct {
	Address              Address            `json:"address"`
	TotalValueLockedUSD  float64            `json:"totalValueLocked"`
	RiskScore            int                `json:"riskScore"`
	ActivityScore        int                `json:"activityScore"`
	DiversificationScore int                `json:"diversificationScore"`
	Chains               []ChainObservation `json:"chains"`
	AIInsights           Insights           `json:"aiInsights"`
	AccessLevel          AccessLevel        `json:"accessLevel"`
	WalletAge            WalletAge          `json:"walletAge"`

	// AverageHealthFactor is nil when no position reported a health factor
	AverageHealthFactor *float64 `json:"averageHealthFactor,omitempty"`

	AnalyzedAt time.Time `json:"analyzedAt"`
}

// ActiveChains returns the number of chains with nonzero valuation
func (r AnalysisResult) ActiveChains() int {
	n := 0
	for _, c := range r.Chains {
		if c.Active() {
			n++
		}
	}
	return n
}

// CoachQuestion is an entry in the coaching question catalog
type CoachQuestion struct {
	ID               string `json:"id"`
	Question         string `json:"question"`
	Category         string `json:"category"`
	RequiresAnalysis bool   `json:"requiresAnalysis"`
}

// CoachResponse is the answer to a coaching question
type CoachResponse struct {
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	ActionItems      []string `json:"actionItems"`
	RelatedQuestions []string `json:"relatedQuestions"`
}
