// Package valuation converts resolved balances into USD values.
package valuation

import (
	"github.com/shopspring/decimal"
	"github.com/yourorg/omnipass/internal/model"
)

// PriceLookup returns the USD unit price of a token holding
type PriceLookup func(holding model.TokenHolding) float64

// TokenUnits converts a raw smallest-unit amount into whole tokens
func TokenUnits(h model.TokenHolding) decimal.Decimal {
	if h.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(h.RawAmount, -int32(h.DecimalPlaces()))
}

// ValuateChain returns native*nativePrice plus the value of every nonzero token
// holding at the price returned by lookup. Negative inputs contribute nothing.
func ValuateChain(native decimal.Decimal, nativePrice float64, holdings []model.TokenHolding, lookup PriceLookup) float64 {
	total := decimal.Zero

	if native.IsPositive() && nativePrice > 0 {
		total = total.Add(native.Mul(decimal.NewFromFloat(nativePrice)))
	}

	for _, h := range holdings {
		if h.IsZero() {
			continue
		}
		price := lookup(h)
		if price <= 0 {
			continue
		}
		total = total.Add(TokenUnits(h).Mul(decimal.NewFromFloat(price)))
	}

	return total.InexactFloat64()
}

// WalletPosition synthesizes the "Wallet Balance" position for plain holdings.
// It reports false when the wallet holds nothing of value.
func WalletPosition(walletUSD float64, holdings []model.TokenHolding) (model.ProtocolPosition, bool) {
	if walletUSD <= 0 {
		return model.ProtocolPosition{}, false
	}

	nonZero := 0
	for _, h := range holdings {
		if !h.IsZero() {
			nonZero++
		}
	}

	return model.ProtocolPosition{
		Name:          model.WalletBalanceProtocol,
		ValuationUSD:  walletUSD,
		PositionCount: nonZero + 1,
	}, true
}
