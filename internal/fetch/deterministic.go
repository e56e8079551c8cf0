package fetch

import (
	"context"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
)

// DeterministicBalances is the demo-data strategy used whenever the live balance
// source is unavailable. Every value is a pure function of the address: the seed
// is the integer value of the last six hex digits, scaled into a plausible range
// for the chain. Identical addresses always yield identical balances.
type DeterministicBalances struct{}

type mockToken struct {
	contract string
	symbol   string
	decimals int
	base     uint64
	spread   uint64
}

var mockTokens = map[types.ChainID][]mockToken{
	types.ChainEthereum: {
		{contract: "0xA0b86a33E6C48a53C2a9Cbb0B8B0c1C5e5b5b5b5", symbol: "USDC", decimals: 6, base: 1000, spread: 10000},
		{contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", symbol: "USDT", decimals: 6, base: 500, spread: 5000},
		{contract: "0x6B175474E89094C44Da98b954EedeAC495271d0F", symbol: "DAI", decimals: 18, base: 300, spread: 3000},
	},
	types.ChainPolygon: {
		{contract: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", symbol: "USDC", decimals: 6, base: 2000, spread: 20000},
		{contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", symbol: "USDT", decimals: 6, base: 1000, spread: 10000},
	},
	types.ChainSepolia: {
		{contract: "0x94a9D9AC8a22534E3FaCa9F4e7F2E2cf85d5E4C8", symbol: "USDC", decimals: 6, base: 100, spread: 1000},
		{contract: "0xFF34B3d4Aee8ddCd6F9AFFFB6Fe49bD371b8a357", symbol: "DAI", decimals: 18, base: 50, spread: 500},
	},
	types.ChainAmoy: {
		{contract: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", symbol: "USDC", decimals: 6, base: 200, spread: 2000},
	},
}

// MockSeed derives the generator seed from the last six hex digits of the address
func MockSeed(addr model.Address) uint64 {
	s := addr.String()
	if len(s) < 6 {
		return 0
	}
	seed, err := strconv.ParseUint(s[len(s)-6:], 16, 64)
	if err != nil {
		return 0
	}
	return seed
}

// NativeBalance returns the generated native coin balance
func (DeterministicBalances) NativeBalance(_ context.Context, addr model.Address, chain types.ChainConfig) (decimal.Decimal, error) {
	return MockNativeBalance(addr, chain), nil
}

// TokenBalances returns the generated token holdings for the chain
func (DeterministicBalances) TokenBalances(_ context.Context, addr model.Address, chain types.ChainConfig) ([]model.TokenHolding, error) {
	return MockTokenBalances(addr, chain), nil
}

// LendingPositions returns one generated lending position per chain
func (DeterministicBalances) LendingPositions(_ context.Context, addr model.Address, chain types.ChainConfig) ([]model.ProtocolPosition, error) {
	return MockLendingPositions(addr, chain), nil
}

// MockNativeBalance is the native coin balance in whole units
func MockNativeBalance(addr model.Address, chain types.ChainConfig) decimal.Decimal {
	seed := MockSeed(addr)

	var base float64
	var spread uint64
	switch {
	case chain.Testnet && chain.EthLike():
		base, spread = 0.1, 2
	case chain.Testnet:
		base, spread = 1, 10
	case chain.EthLike():
		base, spread = 0.5, 10
	default:
		base, spread = 10, 100
	}

	return decimal.NewFromFloat(base).Add(decimal.NewFromInt(int64(seed % spread)))
}

// MockTokenBalances returns whole-unit amounts scaled to each token's decimals
func MockTokenBalances(addr model.Address, chain types.ChainConfig) []model.TokenHolding {
	seed := MockSeed(addr)
	tokens := mockTokens[chain.ID]

	holdings := make([]model.TokenHolding, 0, len(tokens))
	for _, tok := range tokens {
		units := int64(tok.base + seed%tok.spread)
		decimals := tok.decimals
		holdings = append(holdings, model.TokenHolding{
			ContractAddress: tok.contract,
			RawAmount:       scaleUnits(units, decimals),
			Decimals:        &decimals,
			Symbol:          tok.symbol,
		})
	}
	return holdings
}

// MockLendingPositions returns a single Aave V3 supply position. Mainnet amounts
// are an order of magnitude above testnet ones.
func MockLendingPositions(addr model.Address, chain types.ChainConfig) []model.ProtocolPosition {
	seed := MockSeed(addr)

	var supplied, health float64
	if chain.EthLike() {
		supplied = float64(1000 + seed%5000)
		health = 1.5 + float64(seed%100)/100
	} else {
		supplied = float64(500 + seed%2500)
		health = 1.8 + float64(seed%120)/100
	}
	if !chain.Testnet {
		supplied *= 10
	}

	return []model.ProtocolPosition{{
		Name:          "Aave V3",
		ValuationUSD:  supplied,
		PositionCount: 1,
		HealthFactor:  &health,
	}}
}

// EstimatedWalletAge is the heuristic age used when no transfer history is available
func EstimatedWalletAge(addr model.Address) model.WalletAge {
	return model.WalletAge{
		Months:    int(MockSeed(addr) % 24),
		Estimated: true,
	}
}

func scaleUnits(units int64, decimals int) *big.Int {
	return decimal.NewFromInt(units).Shift(int32(decimals)).BigInt()
}
