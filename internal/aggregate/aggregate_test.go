package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/omnipass/internal/commentary"
	"github.com/yourorg/omnipass/internal/fetch"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/tier"
	"github.com/yourorg/omnipass/internal/types"
	"github.com/yourorg/omnipass/internal/validation"
	"github.com/yourorg/omnipass/internal/valuation"
)

const ones = "0x1111111111111111111111111111111111111111"

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type staticBalances struct {
	native map[types.ChainID]decimal.Decimal
}

func (s staticBalances) Resolve(ctx context.Context, addr model.Address, chain types.ChainConfig) fetch.ChainBalances {
	n, ok := s.native[chain.ID]
	if !ok {
		n = decimal.Zero
	}
	return fetch.ChainBalances{Native: n, Live: true}
}

type staticPrices struct {
	native float64
}

func (p staticPrices) NativePrice(ctx context.Context, chain types.ChainConfig) float64 { return p.native }

func (p staticPrices) TokenPrice(ctx context.Context, chain types.ChainConfig, contract string) float64 {
	return 1
}

type staticLending struct {
	usd    float64
	health float64
}

func (l staticLending) Positions(ctx context.Context, addr model.Address, chain types.ChainConfig) []model.ProtocolPosition {
	h := l.health
	return []model.ProtocolPosition{{Name: "Aave V3", ValuationUSD: l.usd, PositionCount: 1, HealthFactor: &h}}
}

type recordingCommentator struct {
	mu      sync.Mutex
	metrics []commentary.Metrics
}

func (r *recordingCommentator) Insights(ctx context.Context, m commentary.Metrics) model.Insights {
	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()
	return commentary.FallbackInsights(m)
}

func testnet() []types.ChainConfig {
	return types.Chains(types.NetworkTestnet)
}

// unavailableAnalyzer has every collaborator missing so every stage falls back
func unavailableAnalyzer(opts Options) *Analyzer {
	resolverOpts := fetch.ResolverOptions{Timeout: time.Second}
	if opts.Chains == nil {
		opts.Chains = testnet()
	}
	if opts.Thresholds == (tier.Thresholds{}) {
		opts.Thresholds = tier.TestnetThresholds
	}
	opts.Now = func() time.Time { return fixedNow }
	return NewAnalyzer(
		fetch.NewBalanceResolver(nil, resolverOpts),
		fetch.NewPriceResolver(nil, resolverOpts),
		fetch.NewAgeResolver(nil, resolverOpts),
		commentary.NewService(nil, nil, nil, commentary.Options{}),
		opts,
	)
}

func TestAnalyze_RejectsMalformedAddress(t *testing.T) {
	a := unavailableAnalyzer(Options{})

	for _, raw := range []string{"", "0x123", "1111111111111111111111111111111111111111", "0xZZ11111111111111111111111111111111111111"} {
		_, err := a.Analyze(context.Background(), raw)
		assert.ErrorIs(t, err, validation.ErrInvalidAddress, "input %q", raw)
	}
}

func TestAnalyze_ZeroBalancesWithCollaboratorsUnavailable(t *testing.T) {
	a := NewAnalyzer(
		staticBalances{},
		fetch.NewPriceResolver(nil, fetch.ResolverOptions{}),
		fetch.NewAgeResolver(nil, fetch.ResolverOptions{}),
		commentary.NewService(nil, nil, nil, commentary.Options{}),
		Options{Chains: testnet(), Thresholds: tier.TestnetThresholds},
	)

	got, err := a.Analyze(context.Background(), ones)
	require.NoError(t, err)

	assert.Equal(t, 0.0, got.TotalValueLockedUSD)
	assert.Equal(t, model.TierBronze, got.AccessLevel.Tier)
	assert.False(t, got.AccessLevel.Qualifies)
	require.NotNil(t, got.AccessLevel.RequiredTVL)
	assert.Equal(t, tier.TestnetThresholds.Bronze, *got.AccessLevel.RequiredTVL)
	assert.NotEmpty(t, got.AIInsights.Summary)
	assert.Nil(t, got.AverageHealthFactor)
	assert.Len(t, got.Chains, 2)
	for _, c := range got.Chains {
		assert.Empty(t, c.Protocols, "no wallet position without value")
	}
	assert.Equal(t, 0, got.ActivityScore)
	assert.Equal(t, 0, got.DiversificationScore)
}

func TestAnalyze_DeterministicFallbackSum(t *testing.T) {
	a := unavailableAnalyzer(Options{})
	addr := model.Address(ones)

	got, err := a.Analyze(context.Background(), ones)
	require.NoError(t, err)

	var expected float64
	for _, chain := range testnet() {
		expected += valuation.ValuateChain(
			fetch.MockNativeBalance(addr, chain),
			chain.FallbackNativePrice,
			fetch.MockTokenBalances(addr, chain),
			func(model.TokenHolding) float64 { return fetch.UnknownTokenPrice },
		)
	}
	assert.InDelta(t, expected, got.TotalValueLockedUSD, 1e-9)
	assert.Equal(t, fetch.EstimatedWalletAge(addr), got.WalletAge)
	assert.True(t, got.WalletAge.Estimated)

	var sum float64
	for _, c := range got.Chains {
		sum += c.ValuationUSD
	}
	assert.Equal(t, sum, got.TotalValueLockedUSD, "TVL is the sum of chain valuations")
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := unavailableAnalyzer(Options{Lending: fetch.NewLendingResolver(fetch.DeterministicBalances{}, fetch.ResolverOptions{})})

	first, err := a.Analyze(context.Background(), "0x00000000000000000000000000000000000ABCDE")
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "0x00000000000000000000000000000000000abcde")
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
	assert.Equal(t, model.Address("0x00000000000000000000000000000000000abcde"), first.Address)
}

func TestAnalyze_ScoresAlwaysBounded(t *testing.T) {
	a := unavailableAnalyzer(Options{Lending: fetch.NewLendingResolver(fetch.DeterministicBalances{}, fetch.ResolverOptions{})})
	addrs := []string{
		ones,
		"0x0000000000000000000000000000000000000000",
		"0xffffffffffffffffffffffffffffffffffffffff",
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	}

	for _, raw := range addrs {
		got, err := a.Analyze(context.Background(), raw)
		require.NoError(t, err)
		for _, s := range []int{got.RiskScore, got.ActivityScore, got.DiversificationScore} {
			assert.GreaterOrEqual(t, s, 0)
			assert.LessOrEqual(t, s, 100)
		}
		assert.NotEmpty(t, got.AIInsights.Summary)
	}
}

func TestAnalyze_LendingPositions(t *testing.T) {
	a := unavailableAnalyzer(Options{Lending: fetch.NewLendingResolver(fetch.DeterministicBalances{}, fetch.ResolverOptions{})})
	addr := model.Address(ones)

	got, err := a.Analyze(context.Background(), ones)
	require.NoError(t, err)

	require.NotNil(t, got.AverageHealthFactor)
	for _, c := range got.Chains {
		require.Len(t, c.Protocols, 2)
		assert.Equal(t, model.WalletBalanceProtocol, c.Protocols[0].Name)
		assert.Equal(t, "Aave V3", c.Protocols[1].Name)

		chain, ok := types.LookupChain(c.ChainID)
		require.True(t, ok)
		lending := fetch.MockLendingPositions(addr, chain)[0]
		assert.InDelta(t, c.Protocols[0].ValuationUSD+lending.ValuationUSD, c.ValuationUSD, 1e-9)
	}
}

func TestAnalyze_PlatinumScenario(t *testing.T) {
	chains := testnet()
	commentator := &recordingCommentator{}
	a := NewAnalyzer(
		staticBalances{native: map[types.ChainID]decimal.Decimal{
			types.ChainSepolia: decimal.NewFromInt(2),
			types.ChainAmoy:    decimal.NewFromInt(2),
		}},
		staticPrices{native: 2500},
		fetch.NewAgeResolver(nil, fetch.ResolverOptions{}),
		commentator,
		Options{
			Chains:     chains,
			Thresholds: tier.TestnetThresholds,
			Lending:    staticLending{usd: 2500, health: 2.5},
		},
	)

	got, err := a.Analyze(context.Background(), ones)
	require.NoError(t, err)

	assert.Equal(t, 15000.0, got.TotalValueLockedUSD)
	assert.Equal(t, 2, got.ActiveChains())
	require.NotNil(t, got.AverageHealthFactor)
	assert.Equal(t, 2.5, *got.AverageHealthFactor)
	assert.Equal(t, model.TierPlatinum, got.AccessLevel.Tier)
	assert.True(t, got.AccessLevel.Qualifies)

	require.Len(t, commentator.metrics, 1)
	m := commentator.metrics[0]
	assert.Equal(t, model.TierPlatinum, m.Tier)
	assert.Equal(t, 15000.0, m.TotalTVL)
	assert.Equal(t, 2, m.ActiveChains)
	assert.Equal(t, got.RiskScore, m.RiskScore)
}

func TestAnalyze_LowHealthLowersRisk(t *testing.T) {
	build := func(health float64) *Analyzer {
		return NewAnalyzer(
			staticBalances{native: map[types.ChainID]decimal.Decimal{types.ChainSepolia: decimal.NewFromFloat(0.04)}},
			staticPrices{native: 2500},
			fetch.NewAgeResolver(nil, fetch.ResolverOptions{}),
			commentary.NewService(nil, nil, nil, commentary.Options{}),
			Options{Chains: testnet(), Thresholds: tier.TestnetThresholds, Lending: staticLending{usd: 10000, health: health}},
		)
	}

	risky, err := build(1.1).Analyze(context.Background(), ones)
	require.NoError(t, err)
	safe, err := build(2.5).Analyze(context.Background(), ones)
	require.NoError(t, err)

	assert.Less(t, risky.RiskScore, safe.RiskScore)
	assert.Equal(t, 25, safe.RiskScore-risky.RiskScore, "health component drops from 30 to 5 points")
	assert.Contains(t, risky.AIInsights.RiskFactors, "Health factor approaching liquidation risk")
}

func TestAnalyze_CancelledContext(t *testing.T) {
	a := unavailableAnalyzer(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, ones)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAnalyzer_Chains(t *testing.T) {
	a := unavailableAnalyzer(Options{})
	chains := a.Chains()
	require.Len(t, chains, 2)
	chains[0].Name = "changed"
	assert.NotEqual(t, "changed", a.Chains()[0].Name)
}
