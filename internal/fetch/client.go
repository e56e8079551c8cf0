// Package fetch provides the external collaborators of the analysis pipeline
// (balances, prices, generative commentary) and the fallback resolvers that
// keep a failing collaborator from failing an analysis.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
)

var (
	// ErrUnavailable means the collaborator has no credential configured
	ErrUnavailable = errors.New("collaborator unavailable")

	// ErrUnsupportedChain means the collaborator cannot answer for this network
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrPriceNotFound means the price feed returned no quote for the asset
	ErrPriceNotFound = errors.New("price not found")

	// ErrNoCandidate means the generative collaborator returned no usable text
	ErrNoCandidate = errors.New("no completion candidate")

	// ErrNoActivity means the address has no recorded transfers
	ErrNoActivity = errors.New("no on-chain activity")
)

// BalanceSource returns native and token balances of an address on one chain
type BalanceSource interface {
	NativeBalance(ctx context.Context, addr model.Address, chain types.ChainConfig) (decimal.Decimal, error)
	TokenBalances(ctx context.Context, addr model.Address, chain types.ChainConfig) ([]model.TokenHolding, error)
}

// ActivitySource reports when an address first transacted
type ActivitySource interface {
	FirstActivity(ctx context.Context, addr model.Address) (time.Time, error)
}

// LendingSource returns lending-protocol positions of an address on one chain
type LendingSource interface {
	LendingPositions(ctx context.Context, addr model.Address, chain types.ChainConfig) ([]model.ProtocolPosition, error)
}

// PriceSource returns USD unit prices
type PriceSource interface {
	NativePrice(ctx context.Context, chain types.ChainConfig) (float64, error)
	TokenPrice(ctx context.Context, chain types.ChainConfig, contract string) (float64, error)
}

// Completer sends one prompt to a generative-language model and returns its free text
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}
