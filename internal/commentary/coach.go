package commentary

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/omnipass/internal/model"
)

// CoachRequest is one coaching question. Analysis is optional and personalises
// the answer.
type CoachRequest struct {
	QuestionID     string
	CustomQuestion string
	Analysis       *model.AnalysisResult
}

// GeneralQuestion is the text used for unknown question ids
const GeneralQuestion = "General DeFi question"

var baseQuestions = []model.CoachQuestion{
	{ID: "next-tier", Question: "How to reach the next tier?", Category: "tier", RequiresAnalysis: true},
	{ID: "improve-risk", Question: "How to improve my risk score?", Category: "risk", RequiresAnalysis: true},
	{ID: "explore-protocols", Question: "What protocols should I explore?", Category: "protocol", RequiresAnalysis: false},
	{ID: "diversification", Question: "How can I diversify my portfolio better?", Category: "risk", RequiresAnalysis: true},
	{ID: "cross-chain", Question: "Which chains should I expand to?", Category: "protocol", RequiresAnalysis: true},
	{ID: "defi-basics", Question: "What are the safest DeFi strategies for beginners?", Category: "general", RequiresAnalysis: false},
	{ID: "yield-optimization", Question: "How can I optimize my yield farming returns?", Category: "protocol", RequiresAnalysis: true},
	{ID: "risk-management", Question: "What are the main risks in DeFi I should watch?", Category: "risk", RequiresAnalysis: false},
}

var (
	bronzeUpgrade    = model.CoachQuestion{ID: "bronze-upgrade", Question: "I'm Bronze tier, what should I focus on first?", Category: "tier", RequiresAnalysis: true}
	multiChainStart  = model.CoachQuestion{ID: "multi-chain-start", Question: "How do I start using multiple chains?", Category: "protocol", RequiresAnalysis: true}
	defaultRelated   = []string{"What protocols should I explore?", "How to improve my risk score?"}
	rateLimitActions = []string{"Wait 1 minute before asking another question", "Consider browsing existing questions first"}
)

// Questions returns the question catalog, personalised when an analysis is given
func Questions(analysis *model.AnalysisResult) []model.CoachQuestion {
	out := make([]model.CoachQuestion, len(baseQuestions), len(baseQuestions)+2)
	copy(out, baseQuestions)
	if analysis == nil {
		return out
	}
	if analysis.AccessLevel.Tier == model.TierBronze {
		out = append(out, bronzeUpgrade)
	}
	if analysis.ActiveChains() <= 1 {
		out = append(out, multiChainStart)
	}
	return out
}

// QuestionText returns the catalog text for a question id
func QuestionText(id string) string {
	for _, q := range baseQuestions {
		if q.ID == id {
			return q.Question
		}
	}
	for _, q := range []model.CoachQuestion{bronzeUpgrade, multiChainStart} {
		if q.ID == id {
			return q.Question
		}
	}
	return GeneralQuestion
}

// SuggestedQuestions proposes follow-up questions for an analysis
func SuggestedQuestions(r model.AnalysisResult) []string {
	var suggestions []string
	if r.AccessLevel.Tier == model.TierBronze && r.TotalValueLockedUSD < 500 {
		suggestions = append(suggestions, "How can I increase my portfolio value efficiently on testnets?")
	}
	if r.ActiveChains() < 2 {
		suggestions = append(suggestions, "Which chain should I expand to next for better diversification?")
	}
	if r.RiskScore < 60 {
		suggestions = append(suggestions, "How can I improve my risk management and safety practices?")
	}
	if r.ActivityScore < 50 {
		suggestions = append(suggestions, "How can I increase my DeFi activity score safely?")
	}
	if len(suggestions) == 0 {
		suggestions = []string{
			"How can I optimize my yield farming strategy?",
			"What new protocols are worth exploring safely?",
			"How do I prepare my portfolio for market volatility?",
		}
	}
	return suggestions
}

func (r CoachRequest) question() string {
	if r.CustomQuestion != "" {
		return r.CustomQuestion
	}
	return QuestionText(r.QuestionID)
}

func (r CoachRequest) tierKey() string {
	if r.Analysis == nil {
		return "no-tier"
	}
	return r.Analysis.AccessLevel.Tier.String()
}

func (r CoachRequest) rateIdentifier() string {
	if r.Analysis == nil {
		return AnonymousIdentifier
	}
	return r.Analysis.AccessLevel.Tier.String()
}

// Answer responds to a coaching question. It never fails.
func (s *Service) Answer(ctx context.Context, req CoachRequest) model.CoachResponse {
	if s.completer == nil {
		s.observe(KindCoach, OutcomeNoCredential)
		return FallbackAnswer(req.QuestionID, req.CustomQuestion)
	}

	key := fmt.Sprintf("%s|%s|%s", req.QuestionID, req.CustomQuestion, req.tierKey())
	if cached, ok := s.coach.Lookup(key); ok {
		if v, ok := cached.(model.CoachResponse); ok {
			s.observe(KindCoach, OutcomeCached)
			return v
		}
	}

	if id := req.rateIdentifier(); !s.coach.Allow(id) {
		logrus.WithField("identifier", id).Warn("Coach rate limit exceeded")
		s.observe(KindCoach, OutcomeRateLimited)
		return model.CoachResponse{
			Question:         req.question(),
			Answer:           RateLimitedAnswer,
			ActionItems:      append([]string(nil), rateLimitActions...),
			RelatedQuestions: append([]string(nil), defaultRelated...),
		}
	}

	text, ok := s.generate(ctx, KindCoach, s.BuildCoachPrompt(req), s.opts.CoachTimeout)
	if !ok {
		return FallbackAnswer(req.QuestionID, req.CustomQuestion)
	}

	resp, ok := parseCoachResponse(text, req.question())
	if !ok {
		logrus.WithField("question_id", req.QuestionID).Warn("Unparseable coach reply, using templated answer")
		s.observe(KindCoach, OutcomeParseErr)
		return FallbackAnswer(req.QuestionID, req.CustomQuestion)
	}

	if ctx.Err() == nil {
		s.coach.Store(key, resp)
	}
	s.observe(KindCoach, OutcomeGenerated)
	return resp
}

func parseCoachResponse(text, question string) (model.CoachResponse, bool) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return model.CoachResponse{}, false
	}
	answer, ok := stringField(obj, "answer")
	if !ok {
		return model.CoachResponse{}, false
	}
	return model.CoachResponse{
		Question:         question,
		Answer:           answer,
		ActionItems:      stringList(obj, "actionItems"),
		RelatedQuestions: stringList(obj, "relatedQuestions"),
	}, true
}

// BuildCoachPrompt renders the coaching prompt for a request
func (s *Service) BuildCoachPrompt(req CoachRequest) string {
	var b strings.Builder
	b.WriteString("You are OmniPass AI Coach, an expert DeFi advisor specializing in cross-chain portfolio optimization and risk management.\n\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- User Question: %q\n", req.question())
	b.WriteString("- Focus on testnet-friendly advice since this is educational\n")
	b.WriteString("- Provide actionable, specific guidance\n")
	if len(s.opts.Networks) > 0 {
		fmt.Fprintf(&b, "- Consider multi-chain opportunities (%s)\n", strings.Join(s.opts.Networks, ", "))
	}

	if a := req.Analysis; a != nil {
		var active []string
		for _, c := range a.Chains {
			if c.Active() {
				active = append(active, fmt.Sprintf("%s ($%.2f)", c.Name, c.ValuationUSD))
			}
		}
		strengths := a.AIInsights.Reasoning
		if len(strengths) > 2 {
			strengths = strengths[:2]
		}

		b.WriteString("\nUSER PORTFOLIO ANALYSIS:\n")
		fmt.Fprintf(&b, "- Current Tier: %s\n", a.AccessLevel.Tier)
		fmt.Fprintf(&b, "- Total Value Locked: $%.2f\n", a.TotalValueLockedUSD)
		fmt.Fprintf(&b, "- Risk Score: %d/100 (%s)\n", a.RiskScore, riskLabel(a.RiskScore))
		fmt.Fprintf(&b, "- Activity Score: %d/100\n", a.ActivityScore)
		fmt.Fprintf(&b, "- Diversification Score: %d/100\n", a.DiversificationScore)
		fmt.Fprintf(&b, "- Active Chains: %d - %s\n", len(active), strings.Join(active, ", "))
		fmt.Fprintf(&b, "- Risk Factors: %s\n", strings.Join(a.AIInsights.RiskFactors, ", "))
		fmt.Fprintf(&b, "- Current Strengths: %s\n", strings.Join(strengths, ", "))
	}

	b.WriteString(`
RESPONSE FORMAT (Must be valid JSON):
{
  "answer": "Provide 2-3 paragraph detailed response with specific protocols, strategies, and actionable advice",
  "actionItems": ["Step 1: Specific actionable step", "Step 2: Another specific action", "Step 3: Third concrete step"],
  "relatedQuestions": ["Related question 1", "Related question 2"]
}

GUIDELINES:
- Recommend testnet protocols for learning (Aave V3 Sepolia, Uniswap V3 on Polygon)
- Focus on established, audited protocols with good track records
- Include specific numbers/targets when possible (e.g., "maintain health factor above 2.0")
- Mention risk management practices and safety measures
- Keep advice beginner-friendly but comprehensive and actionable
- If user has low TVL, focus on educational testnet strategies first`)
	return b.String()
}

func riskLabel(score int) string {
	switch {
	case score < 50:
		return "Needs Improvement"
	case score > 80:
		return "Excellent"
	default:
		return "Good"
	}
}

var fallbackAnswers = map[string]model.CoachResponse{
	"next-tier": {
		Question: "How to reach the next tier?",
		Answer:   "To advance to the next tier in OmniPass, focus on increasing your Total Value Locked (TVL) across multiple chains while maintaining good risk management practices. Start by expanding your holdings to at least two different networks. Maintain healthy lending positions with health factors above 1.5 on platforms like Aave V3. Your activity score improves through diverse protocol interactions, so explore different DeFi protocols systematically. Use testnets first to practice strategies before committing mainnet funds.",
		ActionItems: []string{
			"Increase TVL by gradually adding more funds across multiple chains",
			"Expand to at least 2 different blockchain networks",
			"Maintain lending positions with health factors above 1.5 on Aave V3",
			"Interact with 3+ different DeFi protocols to boost activity score",
		},
		RelatedQuestions: []string{"What protocols should I explore?", "How to improve my risk score?"},
	},
	"improve-risk": {
		Question: "How to improve my risk score?",
		Answer:   "Improving your risk score requires a combination of conservative position management and portfolio diversification. Focus on maintaining higher health factors in lending protocols (aim for 2.0+ on Aave), diversifying your holdings across multiple chains and protocols, and avoiding over-leveraged positions. Use established, audited protocols like Aave, Compound, and Uniswap rather than newer, unproven platforms. Consider dollar-cost averaging into positions rather than making large single investments, and always keep emergency reserves.",
		ActionItems: []string{
			"Keep health factors above 2.0 in all lending protocols",
			"Diversify holdings across 3+ different protocols and chains",
			"Use conservative leverage ratios (maximum 2:1 if any)",
			"Maintain 10-20% of portfolio in stablecoins as emergency reserves",
		},
		RelatedQuestions: []string{"What are the safest DeFi strategies for beginners?", "How can I diversify my portfolio better?"},
	},
	"explore-protocols": {
		Question: "What protocols should I explore?",
		Answer:   "Start your DeFi journey with battle-tested lending protocols like Aave V3 on Ethereum and Polygon for earning stable yields on your assets. Next, explore decentralized exchanges like Uniswap V3 for liquidity provision, starting with stable pairs (USDC/USDT) before moving to more volatile pairs. Consider yield farming opportunities on Curve Finance for additional returns. Always start on testnets to understand the mechanics before committing real funds, and research each protocol thoroughly including recent audits and TVL trends.",
		ActionItems: []string{
			"Start with Aave V3 lending on Sepolia testnet, then mainnet",
			"Try providing liquidity on Uniswap V3 with stablecoin pairs first",
			"Explore Curve Finance for yield farming opportunities",
			"Research protocol audits and community feedback before investing",
		},
		RelatedQuestions: []string{"How to reach the next tier?", "What are the main risks in DeFi I should watch?"},
	},
}

const genericAnswer = "Thank you for your question about DeFi strategy. This is an important topic for building a successful cross-chain portfolio. Start by focusing on established, audited protocols and maintaining good risk management practices. Consider beginning with lending protocols like Aave for stable returns, then gradually exploring more complex strategies like liquidity provision and yield farming. Always research thoroughly and start with small amounts on testnets to learn the mechanics safely."

// FallbackAnswer returns the templated answer for a question
func FallbackAnswer(questionID, customQuestion string) model.CoachResponse {
	if canned, ok := fallbackAnswers[questionID]; ok {
		return cloneResponse(canned)
	}
	question := customQuestion
	if question == "" {
		question = QuestionText(questionID)
	}
	return model.CoachResponse{
		Question: question,
		Answer:   genericAnswer,
		ActionItems: []string{
			"Research the topic thoroughly using official documentation",
			"Start with small amounts on testnets to practice safely",
			"Join DeFi communities and forums for additional insights and support",
		},
		RelatedQuestions: append([]string(nil), defaultRelated...),
	}
}

func cloneResponse(r model.CoachResponse) model.CoachResponse {
	r.ActionItems = append([]string(nil), r.ActionItems...)
	r.RelatedQuestions = append([]string(nil), r.RelatedQuestions...)
	return r
}
