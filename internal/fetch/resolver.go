package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/circuitbreaker"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
	"github.com/yourorg/omnipass/internal/validation"
)

// Collaborator names used in logs and fallback metrics
const (
	CollaboratorBalances = "balances"
	CollaboratorPrices   = "prices"
	CollaboratorActivity = "activity"
	CollaboratorLending  = "lending"
	CollaboratorGemini   = "gemini"
)

// FallbackObserver is notified whenever a collaborator result is replaced by a fallback
type FallbackObserver func(collaborator string)

// ResolverOptions configures the fallback resolvers
type ResolverOptions struct {
	// Timeout bounds each collaborator call
	Timeout time.Duration

	// Breaker short-circuits a failing collaborator; optional
	Breaker *circuitbreaker.CircuitBreaker

	// OnFallback is called after each fallback; optional
	OnFallback FallbackObserver
}

func (o ResolverOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 10 * time.Second
	}
	return o.Timeout
}

func (o ResolverOptions) fallback(collaborator string, fields logrus.Fields, err error) {
	entry := logrus.WithFields(fields).WithField("collaborator", collaborator)
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnsupportedChain) {
		entry.Debugf("Using fallback: %v", err)
	} else {
		entry.Warnf("Collaborator failed, using fallback: %v", err)
	}
	if o.OnFallback != nil {
		o.OnFallback(collaborator)
	}
}

// guard runs fn through the breaker when one is configured. Caller
// cancellation and "cannot answer" errors are not held against the
// collaborator; deadlines that expire while it is working are.
func guard(ctx context.Context, breaker *circuitbreaker.CircuitBreaker, fn func() error) error {
	if breaker == nil {
		return fn()
	}
	return breaker.Execute(func() error {
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled),
			errors.Is(err, ErrUnavailable), errors.Is(err, ErrUnsupportedChain), errors.Is(err, ErrPriceNotFound):
			return circuitbreaker.Neutral(err)
		}
		return err
	})
}

// ChainBalances are the resolved balances of one address on one chain
type ChainBalances struct {
	Native decimal.Decimal
	Tokens []model.TokenHolding

	// Live is false when the balances came from the deterministic generator
	Live bool
}

// BalanceResolver queries the live balance source and falls back to the
// deterministic generator for the whole chain when any part of the lookup fails.
type BalanceResolver struct {
	primary  BalanceSource
	fallback DeterministicBalances
	opts     ResolverOptions
}

// NewBalanceResolver creates a resolver; a nil primary always uses the generator
func NewBalanceResolver(primary BalanceSource, opts ResolverOptions) *BalanceResolver {
	return &BalanceResolver{primary: primary, opts: opts}
}

// Resolve returns balances for the chain. It never fails.
func (r *BalanceResolver) Resolve(ctx context.Context, addr model.Address, chain types.ChainConfig) ChainBalances {
	if r.primary != nil {
		var out ChainBalances
		err := guard(ctx, r.opts.Breaker, func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.opts.timeout())
			defer cancel()

			native, err := r.primary.NativeBalance(callCtx, addr, chain)
			if err != nil {
				return err
			}
			tokens, err := r.primary.TokenBalances(callCtx, addr, chain)
			if err != nil {
				return err
			}
			out = ChainBalances{Native: native, Tokens: tokens, Live: true}
			return nil
		})
		if err == nil {
			out.Tokens = validation.SanitizeHoldings(out.Tokens, validation.DefaultHoldingOptions())
			return out
		}
		r.opts.fallback(CollaboratorBalances, logrus.Fields{"chain_id": chain.ID, "address": addr}, err)
	}

	native, _ := r.fallback.NativeBalance(ctx, addr, chain)
	tokens, _ := r.fallback.TokenBalances(ctx, addr, chain)
	return ChainBalances{
		Native: native,
		Tokens: validation.SanitizeHoldings(tokens, validation.DefaultHoldingOptions()),
	}
}

// UnknownTokenPrice is the unit price used for tokens the price feed cannot quote
const UnknownTokenPrice = 1.0

// PriceResolver wraps a price source with per-asset fallbacks
type PriceResolver struct {
	source PriceSource
	opts   ResolverOptions
}

// NewPriceResolver creates a resolver; a nil source always uses fallback prices
func NewPriceResolver(source PriceSource, opts ResolverOptions) *PriceResolver {
	return &PriceResolver{source: source, opts: opts}
}

// NativePrice returns the native coin price or the chain's documented fallback
func (r *PriceResolver) NativePrice(ctx context.Context, chain types.ChainConfig) float64 {
	if r.source == nil {
		return chain.FallbackNativePrice
	}

	var price float64
	err := guard(ctx, r.opts.Breaker, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.timeout())
		defer cancel()
		p, err := r.source.NativePrice(callCtx, chain)
		price = p
		return err
	})
	if err != nil {
		r.opts.fallback(CollaboratorPrices, logrus.Fields{"chain_id": chain.ID, "asset": chain.NativeSymbol}, err)
		return chain.FallbackNativePrice
	}
	return price
}

// TokenPrice returns the token price or UnknownTokenPrice
func (r *PriceResolver) TokenPrice(ctx context.Context, chain types.ChainConfig, contract string) float64 {
	if r.source == nil {
		return UnknownTokenPrice
	}

	var price float64
	err := guard(ctx, r.opts.Breaker, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.timeout())
		defer cancel()
		p, err := r.source.TokenPrice(callCtx, chain, contract)
		price = p
		return err
	})
	if err != nil {
		r.opts.fallback(CollaboratorPrices, logrus.Fields{"chain_id": chain.ID, "asset": contract}, err)
		return UnknownTokenPrice
	}
	return price
}

// AgeResolver derives wallet age from transfer history, falling back to the
// address-derived estimate.
type AgeResolver struct {
	source ActivitySource
	opts   ResolverOptions
	now    func() time.Time
}

// NewAgeResolver creates a resolver; a nil source always uses the estimate
func NewAgeResolver(source ActivitySource, opts ResolverOptions) *AgeResolver {
	return &AgeResolver{source: source, opts: opts, now: time.Now}
}

// WithClock overrides the time source and returns the resolver
func (r *AgeResolver) WithClock(now func() time.Time) *AgeResolver {
	r.now = now
	return r
}

// WalletAge returns the age in whole 30-day months
func (r *AgeResolver) WalletAge(ctx context.Context, addr model.Address) model.WalletAge {
	if r.source == nil {
		return EstimatedWalletAge(addr)
	}

	var first time.Time
	err := guard(ctx, r.opts.Breaker, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.timeout())
		defer cancel()
		ts, err := r.source.FirstActivity(callCtx, addr)
		if errors.Is(err, ErrNoActivity) {
			return nil
		}
		first = ts
		return err
	})
	if err != nil {
		r.opts.fallback(CollaboratorActivity, logrus.Fields{"address": addr}, err)
		return EstimatedWalletAge(addr)
	}
	if first.IsZero() {
		return model.WalletAge{Months: 0}
	}

	months := int(r.now().Sub(first).Hours() / (24 * 30))
	if months < 0 {
		months = 0
	}
	return model.WalletAge{Months: months}
}

// LendingResolver returns lending positions, or none when the source fails
type LendingResolver struct {
	source LendingSource
	opts   ResolverOptions
}

// NewLendingResolver creates a lending position resolver
func NewLendingResolver(source LendingSource, opts ResolverOptions) *LendingResolver {
	return &LendingResolver{source: source, opts: opts}
}

// Positions returns sanitised lending positions for the chain
func (r *LendingResolver) Positions(ctx context.Context, addr model.Address, chain types.ChainConfig) []model.ProtocolPosition {
	if r.source == nil {
		return nil
	}

	var positions []model.ProtocolPosition
	err := guard(ctx, r.opts.Breaker, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.timeout())
		defer cancel()
		p, err := r.source.LendingPositions(callCtx, addr, chain)
		positions = p
		return err
	})
	if err != nil {
		r.opts.fallback(CollaboratorLending, logrus.Fields{"chain_id": chain.ID, "address": addr}, err)
		return nil
	}
	return validation.SanitizePositions(positions)
}

// GuardedCompleter routes completions through a circuit breaker
type GuardedCompleter struct {
	next    Completer
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedCompleter wraps next with breaker
func NewGuardedCompleter(next Completer, breaker *circuitbreaker.CircuitBreaker) *GuardedCompleter {
	return &GuardedCompleter{next: next, breaker: breaker}
}

// Complete implements Completer
func (g *GuardedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := guard(ctx, g.breaker, func() error {
		t, err := g.next.Complete(ctx, prompt)
		text = t
		return err
	})
	return text, err
}
