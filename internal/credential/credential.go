// Package credential derives the payload a companion contract stores for an
// analysed address: per-chain data hashes, the insights hash and wei-scaled
// values. It only hashes; nothing is signed or submitted.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/yourorg/omnipass/internal/model"
)

// ChainData is one chain's entry in the credential
type ChainData struct {
	ChainID   int64    `json:"chainId"`
	TVLWei    *big.Int `json:"tvl"`
	Positions int      `json:"positions"`
	DataHash  string   `json:"dataHash"`
}

// Credential is the contract-facing summary of an analysis
type Credential struct {
	User                 model.Address `json:"user"`
	Tier                 model.Tier    `json:"tier"`
	TierCode             uint8         `json:"tierCode"`
	TotalValueLockedWei  *big.Int      `json:"totalValueLocked"`
	RiskScore            int           `json:"riskScore"`
	ActivityScore        int           `json:"activityScore"`
	DiversificationScore int           `json:"diversificationScore"`
	CrossChainData       []ChainData   `json:"crossChainData"`
	AIInsightsHash       string        `json:"aiInsightsHash"`
	IssuedAt             int64         `json:"issuedAt"`
}

// chainDigest is the hashed view of a chain observation
type chainDigest struct {
	Address      model.Address `json:"address"`
	ChainID      int64         `json:"chainId"`
	NativeAmount string        `json:"nativeBalance"`
	ValuationUSD string        `json:"valuationUsd"`
	Protocols    []string      `json:"protocols"`
	Positions    int           `json:"positions"`
}

// ToWei scales a USD amount to 18 decimals, the fixed-point unit the contract stores
func ToWei(usd float64) *big.Int {
	if usd <= 0 {
		return big.NewInt(0)
	}
	return decimal.NewFromFloat(usd).Shift(18).BigInt()
}

// TierCode maps a tier onto the contract enum (BRONZE=0 .. PLATINUM=3)
func TierCode(t model.Tier) uint8 {
	return uint8(t)
}

func positions(c model.ChainObservation) int {
	n := 0
	for _, p := range c.Protocols {
		n += p.PositionCount
	}
	return n
}

// DataHash is the keccak256 of a canonical JSON digest of one chain observation
func DataHash(addr model.Address, c model.ChainObservation) (common.Hash, error) {
	names := make([]string, 0, len(c.Protocols))
	for _, p := range c.Protocols {
		names = append(names, p.Name)
	}
	payload, err := json.Marshal(chainDigest{
		Address:      addr,
		ChainID:      int64(c.ChainID),
		NativeAmount: c.NativeBalance.String(),
		ValuationUSD: decimal.NewFromFloat(c.ValuationUSD).StringFixed(6),
		Protocols:    names,
		Positions:    positions(c),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal chain digest: %w", err)
	}
	return crypto.Keccak256Hash(payload), nil
}

// InsightsHash is the keccak256 of the JSON-encoded insights
func InsightsHash(insights model.Insights) (common.Hash, error) {
	payload, err := json.Marshal(insights)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal insights: %w", err)
	}
	return crypto.Keccak256Hash(payload), nil
}

// Build derives the credential for an analysis result
func Build(r *model.AnalysisResult) (*Credential, error) {
	if r == nil {
		return nil, errors.New("nil analysis result")
	}

	chains := make([]ChainData, 0, len(r.Chains))
	for _, c := range r.Chains {
		h, err := DataHash(r.Address, c)
		if err != nil {
			return nil, err
		}
		chains = append(chains, ChainData{
			ChainID:   int64(c.ChainID),
			TVLWei:    ToWei(c.ValuationUSD),
			Positions: positions(c),
			DataHash:  h.Hex(),
		})
	}

	insightsHash, err := InsightsHash(r.AIInsights)
	if err != nil {
		return nil, err
	}

	return &Credential{
		User:                 r.Address,
		Tier:                 r.AccessLevel.Tier,
		TierCode:             TierCode(r.AccessLevel.Tier),
		TotalValueLockedWei:  ToWei(r.TotalValueLockedUSD),
		RiskScore:            r.RiskScore,
		ActivityScore:        r.ActivityScore,
		DiversificationScore: r.DiversificationScore,
		CrossChainData:       chains,
		AIInsightsHash:       insightsHash.Hex(),
		IssuedAt:             r.AnalyzedAt.Unix(),
	}, nil
}
