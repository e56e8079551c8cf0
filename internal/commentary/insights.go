package commentary

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/model"
)

// ChainValue is one chain's name and valuation as shown to the model
type ChainValue struct {
	Name         string
	ValuationUSD float64
}

// Metrics is the aggregated portfolio view the insights are built from
type Metrics struct {
	Address              model.Address
	TotalTVL             float64
	Chains               []ChainValue
	ActiveChains         int
	ProtocolCount        int
	PositionCount        int
	AverageHealth        *float64 // nil without lending exposure
	RiskScore            int
	ActivityScore        int
	DiversificationScore int
	Tier                 model.Tier
}

// RateLimitedAnswer is returned in place of generated text when a requester
// exceeds the request window
const RateLimitedAnswer = "You are making requests too quickly. Please wait a moment before asking more questions. This helps us provide quality responses to all users."

// Insights returns commentary for the metrics. It never fails.
func (s *Service) Insights(ctx context.Context, m Metrics) model.Insights {
	if s.completer == nil {
		s.observe(KindInsights, OutcomeNoCredential)
		return FallbackInsights(m)
	}

	key := fmt.Sprintf("insights|%s|%s", m.Address, m.Tier)
	if cached, ok := s.insights.Lookup(key); ok {
		if v, ok := cached.(model.Insights); ok {
			s.observe(KindInsights, OutcomeCached)
			return v
		}
	}

	if !s.insights.Allow(m.Tier.String()) {
		logrus.WithField("tier", m.Tier.String()).Warn("Insights rate limit exceeded")
		s.observe(KindInsights, OutcomeRateLimited)
		advisory := FallbackInsights(m)
		advisory.Summary = RateLimitedAnswer
		return advisory
	}

	text, ok := s.generate(ctx, KindInsights, BuildInsightsPrompt(m), s.opts.InsightsTimeout)
	if !ok {
		return FallbackInsights(m)
	}

	insights, ok := parseInsights(text)
	if !ok {
		logrus.WithField("address", m.Address).Warn("Unparseable insights reply, using templated commentary")
		s.observe(KindInsights, OutcomeParseErr)
		return FallbackInsights(m)
	}

	if ctx.Err() == nil {
		s.insights.Store(key, insights)
	}
	s.observe(KindInsights, OutcomeGenerated)
	return insights
}

func parseInsights(text string) (model.Insights, bool) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return model.Insights{}, false
	}
	summary, ok := stringField(obj, "summary")
	if !ok {
		return model.Insights{}, false
	}
	return model.Insights{
		Summary:         summary,
		Reasoning:       stringList(obj, "reasoning"),
		Recommendations: stringList(obj, "recommendations"),
		RiskFactors:     stringList(obj, "riskFactors"),
	}, true
}

// FallbackInsights builds commentary from the metrics alone
func FallbackInsights(m Metrics) model.Insights {
	var summary string
	switch {
	case m.TotalTVL > 50000:
		summary = "High-value DeFi user with significant cross-chain exposure"
	case m.TotalTVL > 10000:
		summary = "Active DeFi participant with moderate portfolio size"
	default:
		summary = "Emerging DeFi user building cross-chain presence"
	}

	reasoning := make([]string, 0, 3)
	if m.ActiveChains >= 2 {
		reasoning = append(reasoning, fmt.Sprintf("Diversified across %s networks", joinNames(activeChainNames(m.Chains))))
	} else {
		reasoning = append(reasoning, "Limited to single chain activity")
	}
	switch {
	case m.AverageHealth == nil:
		reasoning = append(reasoning, "No leveraged lending exposure")
	case *m.AverageHealth > 1.5:
		reasoning = append(reasoning, "Maintains healthy collateral ratios")
	default:
		reasoning = append(reasoning, "Moderate risk profile")
	}
	if m.TotalTVL > 1000 {
		reasoning = append(reasoning, "Demonstrates commitment to DeFi protocols")
	} else {
		reasoning = append(reasoning, "Early stage user")
	}

	recommendations := []string{"Gradually increase position sizes", "Maintain diverse protocol exposure"}
	if m.TotalTVL > 10000 {
		recommendations = []string{"Consider expanding to additional L2 networks", "Explore yield optimization strategies"}
	}

	riskFactors := []string{"Standard DeFi protocol risks", "Market volatility exposure"}
	if m.AverageHealth != nil && *m.AverageHealth < 1.3 {
		riskFactors = []string{"Health factor approaching liquidation risk", "High leverage exposure"}
	}

	return model.Insights{
		Summary:         summary,
		Reasoning:       reasoning,
		Recommendations: recommendations,
		RiskFactors:     riskFactors,
	}
}

// BuildInsightsPrompt renders the analysis prompt for the metrics
func BuildInsightsPrompt(m Metrics) string {
	var b strings.Builder
	b.WriteString("Analyze this DeFi user's cross-chain activity and provide insights for access control decisions.\n\n")
	b.WriteString("User Data:\n")
	fmt.Fprintf(&b, "- Address: %s\n", m.Address)
	for _, c := range m.Chains {
		fmt.Fprintf(&b, "- %s TVL: $%.2f\n", c.Name, c.ValuationUSD)
	}
	fmt.Fprintf(&b, "- Total Portfolio: $%.2f\n", m.TotalTVL)
	if m.AverageHealth != nil {
		fmt.Fprintf(&b, "- Average Health Factor: %.2f\n", *m.AverageHealth)
	} else {
		b.WriteString("- Average Health Factor: N/A\n")
	}
	fmt.Fprintf(&b, "- Active Chains: %d\n", m.ActiveChains)
	fmt.Fprintf(&b, "- Protocols: %d\n", m.ProtocolCount)
	fmt.Fprintf(&b, "- Active Positions: %d\n", m.PositionCount)
	fmt.Fprintf(&b, "- Scores: risk %d/100, activity %d/100, diversification %d/100\n", m.RiskScore, m.ActivityScore, m.DiversificationScore)
	fmt.Fprintf(&b, "- Access Tier: %s\n", m.Tier)
	b.WriteString(`
Please provide analysis in this exact JSON format:
{
  "summary": "Brief overview of user's DeFi profile",
  "reasoning": ["Point 1", "Point 2", "Point 3"],
  "recommendations": ["Recommendation 1", "Recommendation 2"],
  "riskFactors": ["Risk 1", "Risk 2"]
}

Focus on:
- Portfolio diversification across chains
- Risk management (health factors)
- Experience level based on protocol usage
- Capital efficiency and position management

Keep responses concise and actionable.`)
	return b.String()
}

func activeChainNames(chains []ChainValue) []string {
	names := make([]string, 0, len(chains))
	for _, c := range chains {
		if c.ValuationUSD > 0 {
			names = append(names, c.Name)
		}
	}
	return names
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
