// Package aggregate orchestrates one cross-chain analysis: it fans out the
// per-chain lookups, values the results, scores and classifies the portfolio
// and attaches commentary.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/omnipass/internal/commentary"
	"github.com/yourorg/omnipass/internal/fetch"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/otel"
	"github.com/yourorg/omnipass/internal/scoring"
	"github.com/yourorg/omnipass/internal/tier"
	"github.com/yourorg/omnipass/internal/types"
	"github.com/yourorg/omnipass/internal/validation"
	"github.com/yourorg/omnipass/internal/valuation"
)

// BalanceResolver returns balances for one chain, never failing
type BalanceResolver interface {
	Resolve(ctx context.Context, addr model.Address, chain types.ChainConfig) fetch.ChainBalances
}

// PriceResolver returns USD unit prices, substituting fallbacks on failure
type PriceResolver interface {
	NativePrice(ctx context.Context, chain types.ChainConfig) float64
	TokenPrice(ctx context.Context, chain types.ChainConfig, contract string) float64
}

// PositionSource returns protocol positions beyond plain wallet holdings
type PositionSource interface {
	Positions(ctx context.Context, addr model.Address, chain types.ChainConfig) []model.ProtocolPosition
}

// AgeEstimator returns the wallet age used by the risk score
type AgeEstimator interface {
	WalletAge(ctx context.Context, addr model.Address) model.WalletAge
}

// Commentator attaches insights to the aggregated metrics
type Commentator interface {
	Insights(ctx context.Context, m commentary.Metrics) model.Insights
}

// Options configures an Analyzer
type Options struct {
	Chains     []types.ChainConfig
	Thresholds tier.Thresholds

	// Lending adds protocol positions per chain; optional
	Lending PositionSource

	// Now stamps results; defaults to time.Now
	Now func() time.Time
}

// Analyzer runs analyses. It holds no per-request state and is safe for
// concurrent use.
type Analyzer struct {
	balances    BalanceResolver
	prices      PriceResolver
	ages        AgeEstimator
	commentator Commentator
	lending     PositionSource
	chains      []types.ChainConfig
	thresholds  tier.Thresholds
	now         func() time.Time
	tracer      trace.Tracer
}

// NewAnalyzer creates an Analyzer from its collaborators
func NewAnalyzer(balances BalanceResolver, prices PriceResolver, ages AgeEstimator, commentator Commentator, opts Options) *Analyzer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		balances:    balances,
		prices:      prices,
		ages:        ages,
		commentator: commentator,
		lending:     opts.Lending,
		chains:      opts.Chains,
		thresholds:  opts.Thresholds,
		now:         now,
		tracer:      otel.Tracer(),
	}
}

// Chains returns the chains this analyzer covers
func (a *Analyzer) Chains() []types.ChainConfig {
	out := make([]types.ChainConfig, len(a.chains))
	copy(out, a.chains)
	return out
}

// Analyze validates raw and produces the analysis for it. Errors are returned
// only for a malformed address (wrapping validation.ErrInvalidAddress) or a
// cancelled context.
func (a *Analyzer) Analyze(ctx context.Context, raw string) (*model.AnalysisResult, error) {
	addr, err := validation.ParseAddress(raw)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "aggregate.Analyze", trace.WithAttributes(
		attribute.String("address", addr.String()),
		attribute.Int("chains", len(a.chains)),
	))
	defer span.End()

	start := time.Now()

	var (
		wg           sync.WaitGroup
		observations = make([]model.ChainObservation, len(a.chains))
		age          model.WalletAge
	)

	for i, chain := range a.chains {
		wg.Add(1)
		go func(i int, chain types.ChainConfig) {
			defer wg.Done()
			observations[i] = a.observeChain(ctx, addr, chain)
		}(i, chain)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		age = a.ages.WalletAge(ctx, addr)
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		otel.RecordError(ctx, err)
		return nil, fmt.Errorf("analysis of %s aborted: %w", addr, err)
	}

	metrics := scoring.ComputeMetrics(observations)
	riskScore := scoring.RiskScore(observations, metrics, age)
	activityScore := scoring.ActivityScore(metrics)
	diversificationScore := scoring.DiversificationScore(observations, metrics)

	avgHealth, hasHealth := metrics.AverageHealthFactor()
	classifyHealth := avgHealth
	if !hasHealth {
		classifyHealth = math.Inf(1)
	}
	access := tier.Classify(a.thresholds, metrics.TotalTVL, classifyHealth, metrics.ActiveChains)

	var avgHealthPtr *float64
	if hasHealth {
		avgHealthPtr = &avgHealth
	}

	insights := a.commentator.Insights(ctx, commentary.Metrics{
		Address:              addr,
		TotalTVL:             metrics.TotalTVL,
		Chains:               chainValues(observations),
		ActiveChains:         metrics.ActiveChains,
		ProtocolCount:        metrics.ProtocolCount,
		PositionCount:        metrics.PositionCount,
		AverageHealth:        avgHealthPtr,
		RiskScore:            riskScore,
		ActivityScore:        activityScore,
		DiversificationScore: diversificationScore,
		Tier:                 access.Tier,
	})

	result := &model.AnalysisResult{
		Address:              addr,
		TotalValueLockedUSD:  metrics.TotalTVL,
		RiskScore:            riskScore,
		ActivityScore:        activityScore,
		DiversificationScore: diversificationScore,
		Chains:               observations,
		AIInsights:           insights,
		AccessLevel:          access,
		WalletAge:            age,
		AverageHealthFactor:  avgHealthPtr,
		AnalyzedAt:           a.now(),
	}

	span.SetAttributes(
		attribute.Float64("tvl_usd", result.TotalValueLockedUSD),
		attribute.String("tier", access.Tier.String()),
	)
	logrus.WithFields(logrus.Fields{
		"address":       addr,
		"tvl":           result.TotalValueLockedUSD,
		"tier":          access.Tier.String(),
		"qualifies":     access.Qualifies,
		"active_chains": metrics.ActiveChains,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Analysis completed")

	return result, nil
}

// observeChain resolves and values one chain. It never fails.
func (a *Analyzer) observeChain(ctx context.Context, addr model.Address, chain types.ChainConfig) model.ChainObservation {
	ctx, span := a.tracer.Start(ctx, "aggregate.observeChain", trace.WithAttributes(
		attribute.Int64("chain_id", int64(chain.ID)),
	))
	defer span.End()

	balances := a.balances.Resolve(ctx, addr, chain)
	nativePrice := a.prices.NativePrice(ctx, chain)

	walletUSD := valuation.ValuateChain(balances.Native, nativePrice, balances.Tokens, func(h model.TokenHolding) float64 {
		return a.prices.TokenPrice(ctx, chain, h.ContractAddress)
	})

	obs := model.ChainObservation{
		ChainID:       chain.ID,
		Name:          chain.Name,
		NativeSymbol:  chain.NativeSymbol,
		NativeBalance: balances.Native,
		NativePrice:   nativePrice,
		TokenHoldings: balances.Tokens,
		ValuationUSD:  walletUSD,
		Protocols:     []model.ProtocolPosition{},
	}
	if obs.TokenHoldings == nil {
		obs.TokenHoldings = []model.TokenHolding{}
	}

	if pos, ok := valuation.WalletPosition(walletUSD, balances.Tokens); ok {
		obs.Protocols = append(obs.Protocols, pos)
	}

	if a.lending != nil {
		for _, p := range a.lending.Positions(ctx, addr, chain) {
			obs.Protocols = append(obs.Protocols, p)
			obs.ValuationUSD += p.ValuationUSD
		}
	}

	span.SetAttributes(
		attribute.Bool("live", balances.Live),
		attribute.Float64("valuation_usd", obs.ValuationUSD),
	)
	logrus.WithFields(logrus.Fields{
		"chain_id":  chain.ID,
		"address":   addr,
		"live":      balances.Live,
		"valuation": obs.ValuationUSD,
	}).Debug("Chain observed")

	return obs
}

func chainValues(observations []model.ChainObservation) []commentary.ChainValue {
	out := make([]commentary.ChainValue, len(observations))
	for i, o := range observations {
		out[i] = commentary.ChainValue{Name: o.Name, ValuationUSD: o.ValuationUSD}
	}
	return out
}
