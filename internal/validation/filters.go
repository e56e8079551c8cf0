package validation

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/model"
)

// HoldingOptions holds configuration for token holding sanitisation
type HoldingOptions struct {
	// DropZero removes holdings with a zero balance
	DropZero bool

	// MaxDecimals rejects tokens reporting an implausible precision
	MaxDecimals int
}

// DefaultHoldingOptions returns sensible defaults for holding sanitisation
func DefaultHoldingOptions() HoldingOptions {
	return HoldingOptions{
		DropZero:    true,
		MaxDecimals: 36,
	}
}

// SanitizeHoldings removes holdings a balance source should never have returned:
// malformed contract addresses, negative amounts and out-of-range decimals.
func SanitizeHoldings(holdings []model.TokenHolding, opts HoldingOptions) []model.TokenHolding {
	valid := make([]model.TokenHolding, 0, len(holdings))

	for _, h := range holdings {
		if !common.IsHexAddress(h.ContractAddress) {
			logrus.WithFields(logrus.Fields{
				"contract": h.ContractAddress,
				"reason":   "malformed contract address",
			}).Debug("Dropping token holding")
			continue
		}

		if h.RawAmount == nil || h.RawAmount.Sign() < 0 {
			logrus.WithFields(logrus.Fields{
				"contract": h.ContractAddress,
				"reason":   "missing or negative amount",
			}).Debug("Dropping token holding")
			continue
		}

		if opts.DropZero && h.RawAmount.Sign() == 0 {
			continue
		}

		if d := h.DecimalPlaces(); d < 0 || (opts.MaxDecimals > 0 && d > opts.MaxDecimals) {
			logrus.WithFields(logrus.Fields{
				"contract": h.ContractAddress,
				"decimals": d,
				"reason":   "decimals out of range",
			}).Debug("Dropping token holding")
			continue
		}

		valid = append(valid, h)
	}

	return valid
}

// SanitizePositions clamps protocol positions into the ranges the score
// calculators expect. Non-finite or non-positive health factors are cleared.
func SanitizePositions(positions []model.ProtocolPosition) []model.ProtocolPosition {
	out := make([]model.ProtocolPosition, 0, len(positions))

	for _, p := range positions {
		if p.Name == "" {
			continue
		}
		if math.IsNaN(p.ValuationUSD) || math.IsInf(p.ValuationUSD, 0) || p.ValuationUSD < 0 {
			p.ValuationUSD = 0
		}
		if p.PositionCount < 0 {
			p.PositionCount = 0
		}
		if p.HealthFactor != nil {
			hf := *p.HealthFactor
			if math.IsNaN(hf) || math.IsInf(hf, 0) || hf <= 0 {
				logrus.WithFields(logrus.Fields{
					"protocol":      p.Name,
					"health_factor": hf,
				}).Debug("Clearing unusable health factor")
				p.HealthFactor = nil
			}
		}
		out = append(out, p)
	}

	return out
}
