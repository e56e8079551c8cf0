package credential

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
)

func sampleResult() *model.AnalysisResult {
	hf := 2.1
	return &model.AnalysisResult{
		Address:              "0x1111111111111111111111111111111111111111",
		TotalValueLockedUSD:  3050.5,
		RiskScore:            72,
		ActivityScore:        65,
		DiversificationScore: 50,
		Chains: []model.ChainObservation{
			{
				ChainID:       types.ChainSepolia,
				NativeBalance: decimal.RequireFromString("1.1"),
				ValuationUSD:  3000.5,
				Protocols: []model.ProtocolPosition{
					{Name: model.WalletBalanceProtocol, ValuationUSD: 2000.5, PositionCount: 3},
					{Name: "Aave V3", ValuationUSD: 1000, PositionCount: 1, HealthFactor: &hf},
				},
			},
			{
				ChainID:       types.ChainAmoy,
				NativeBalance: decimal.RequireFromString("50"),
				ValuationUSD:  50,
				Protocols:     []model.ProtocolPosition{{Name: model.WalletBalanceProtocol, ValuationUSD: 50, PositionCount: 1}},
			},
		},
		AIInsights:  model.Insights{Summary: "s", Reasoning: []string{"r"}},
		AccessLevel: model.AccessLevel{Tier: model.TierSilver, Qualifies: true},
		AnalyzedAt:  time.Unix(1700000000, 0),
	}
}

func TestToWei(t *testing.T) {
	want, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, want, ToWei(1.5))
	assert.Equal(t, big.NewInt(0), ToWei(0))
	assert.Equal(t, big.NewInt(0), ToWei(-3))
}

func TestTierCode(t *testing.T) {
	assert.Equal(t, uint8(0), TierCode(model.TierBronze))
	assert.Equal(t, uint8(1), TierCode(model.TierSilver))
	assert.Equal(t, uint8(2), TierCode(model.TierGold))
	assert.Equal(t, uint8(3), TierCode(model.TierPlatinum))
}

func TestBuild(t *testing.T) {
	r := sampleResult()
	c, err := Build(r)
	require.NoError(t, err)

	assert.Equal(t, r.Address, c.User)
	assert.Equal(t, uint8(1), c.TierCode)
	assert.Equal(t, int64(1700000000), c.IssuedAt)
	require.Len(t, c.CrossChainData, 2)
	assert.Equal(t, int64(11155111), c.CrossChainData[0].ChainID)
	assert.Equal(t, 4, c.CrossChainData[0].Positions)
	assert.Equal(t, 1, c.CrossChainData[1].Positions)
	assert.Len(t, c.CrossChainData[0].DataHash, 66)
	assert.NotEqual(t, c.CrossChainData[0].DataHash, c.CrossChainData[1].DataHash)

	again, err := Build(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, c, again, "hashes are deterministic")

	_, err = Build(nil)
	assert.Error(t, err)
}

func TestDataHash_SensitiveToContent(t *testing.T) {
	r := sampleResult()
	base, err := DataHash(r.Address, r.Chains[0])
	require.NoError(t, err)

	changed := r.Chains[0]
	changed.ValuationUSD += 0.01
	h, err := DataHash(r.Address, changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	other, err := DataHash("0x2222222222222222222222222222222222222222", r.Chains[0])
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

var errMismatch = errors.New("credential does not match analysis")

// verify recomputes the hashes of r and compares them with c
func verify(c *Credential, r *model.AnalysisResult) error {
	expected, err := Build(r)
	if err != nil {
		return err
	}
	if c.User != expected.User || c.TierCode != expected.TierCode {
		return fmt.Errorf("%w: holder or tier differs", errMismatch)
	}
	if c.AIInsightsHash != expected.AIInsightsHash {
		return fmt.Errorf("%w: insights hash differs", errMismatch)
	}
	if len(c.CrossChainData) != len(expected.CrossChainData) {
		return fmt.Errorf("%w: %d chains, want %d", errMismatch, len(c.CrossChainData), len(expected.CrossChainData))
	}
	for i, cd := range c.CrossChainData {
		if cd.DataHash != expected.CrossChainData[i].DataHash {
			return fmt.Errorf("%w: chain %d data hash differs", errMismatch, cd.ChainID)
		}
	}
	return nil
}

func TestBuild_HashesBindAnalysis(t *testing.T) {
	r := sampleResult()
	c, err := Build(r)
	require.NoError(t, err)
	assert.NoError(t, verify(c, r))

	tampered := sampleResult()
	tampered.AIInsights.Summary = "different"
	assert.True(t, errors.Is(verify(c, tampered), errMismatch))

	fewer := sampleResult()
	fewer.Chains = fewer.Chains[:1]
	assert.ErrorIs(t, verify(c, fewer), errMismatch)

	moved := sampleResult()
	moved.Chains[1].NativeBalance = decimal.RequireFromString("51")
	assert.ErrorIs(t, verify(c, moved), errMismatch)
}
