package commentary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/omnipass/internal/model"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hf(v float64) *float64 { return &v }

func sampleMetrics() Metrics {
	return Metrics{
		Address:  "0x1111111111111111111111111111111111111111",
		TotalTVL: 12000,
		Chains: []ChainValue{
			{Name: "Sepolia", ValuationUSD: 8000},
			{Name: "Polygon Amoy", ValuationUSD: 4000},
		},
		ActiveChains:  2,
		ProtocolCount: 2,
		PositionCount: 4,
		AverageHealth: hf(1.8),
		RiskScore:     80,
		Tier:          model.TierGold,
	}
}

const insightsReply = "Sure!\n```json\n" + `{"summary":"Seasoned user","reasoning":["a","b"],"recommendations":["c"],"riskFactors":["d"]}` + "\n```"

func newTestService(c Completer, clock *fakeClock) *Service {
	insights := NewGate(DefaultGateOptions()).WithClock(clock.Now)
	coach := NewGate(DefaultGateOptions()).WithClock(clock.Now)
	return NewService(c, insights, coach, Options{Networks: []string{"Sepolia", "Polygon Amoy"}})
}

func TestInsights_NoCredentialUsesFallback(t *testing.T) {
	var outcomes []string
	s := NewService(nil, nil, nil, Options{Observer: func(kind, outcome string) {
		outcomes = append(outcomes, kind+":"+outcome)
	}})

	got := s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, FallbackInsights(sampleMetrics()), got)
	assert.NotEmpty(t, got.Summary)
	assert.Equal(t, []string{"insights:no_credential"}, outcomes)
	assert.False(t, s.Enabled())
}

func TestInsights_ParsesReply(t *testing.T) {
	fc := &fakeCompleter{reply: insightsReply}
	s := newTestService(fc, newFakeClock())

	got := s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, model.Insights{
		Summary:         "Seasoned user",
		Reasoning:       []string{"a", "b"},
		Recommendations: []string{"c"},
		RiskFactors:     []string{"d"},
	}, got)
	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], "Sepolia TVL: $8000.00")
	assert.Contains(t, fc.prompts[0], "Average Health Factor: 1.80")
}

func TestInsights_CacheWithinTTL(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeCompleter{reply: insightsReply}
	s := newTestService(fc, clock)

	first := s.Insights(context.Background(), sampleMetrics())
	second := s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fc.Calls())

	clock.Advance(5*time.Minute + time.Second)
	s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, 2, fc.Calls())
}

func TestCacheSizes(t *testing.T) {
	clock := newFakeClock()
	s := newTestService(&fakeCompleter{reply: insightsReply}, clock)
	assert.Equal(t, map[string]int{KindInsights: 0, KindCoach: 0}, s.CacheSizes())

	s.Insights(context.Background(), sampleMetrics())
	s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, map[string]int{KindInsights: 1, KindCoach: 0}, s.CacheSizes())
}

func TestInsights_FailuresFallBack(t *testing.T) {
	tests := []struct {
		name    string
		fc      *fakeCompleter
		outcome string
	}{
		{name: "upstream error", fc: &fakeCompleter{err: errors.New("503")}, outcome: OutcomeUpstreamErr},
		{name: "no json", fc: &fakeCompleter{reply: "I am unable to comply."}, outcome: OutcomeParseErr},
		{name: "missing summary", fc: &fakeCompleter{reply: `{"reasoning":["x"]}`}, outcome: OutcomeParseErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []string
			s := NewService(tt.fc, nil, nil, Options{Observer: func(_, outcome string) { outcomes = append(outcomes, outcome) }})

			got := s.Insights(context.Background(), sampleMetrics())
			assert.Equal(t, FallbackInsights(sampleMetrics()), got)
			assert.Equal(t, 1, tt.fc.Calls(), "never a second remote call")
			assert.Equal(t, []string{tt.outcome}, outcomes)

			s.Insights(context.Background(), sampleMetrics())
			assert.Equal(t, 2, tt.fc.Calls(), "failures are not cached")
		})
	}
}

func TestInsights_CancelledContextIsNotCached(t *testing.T) {
	fc := &fakeCompleter{reply: insightsReply}
	s := newTestService(fc, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Insights(ctx, sampleMetrics())
	s.Insights(context.Background(), sampleMetrics())
	assert.Equal(t, 2, fc.Calls())
}

func TestInsights_RateLimited(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeCompleter{reply: insightsReply}
	s := newTestService(fc, clock)

	m := sampleMetrics()
	for i := 0; i < 10; i++ {
		m.Address = model.Address(fmt.Sprintf("0x%040d", i))
		s.Insights(context.Background(), m)
	}
	m.Address = "0x2222222222222222222222222222222222222222"
	got := s.Insights(context.Background(), m)

	assert.Equal(t, 10, fc.Calls())
	assert.Equal(t, RateLimitedAnswer, got.Summary)
	assert.NotEmpty(t, got.Recommendations)
}

func TestFallbackInsights(t *testing.T) {
	tests := []struct {
		name       string
		metrics    Metrics
		summary    string
		reasoning  []string
		recommends string
		risk       string
	}{
		{
			name:       "emerging single chain",
			metrics:    Metrics{TotalTVL: 300, ActiveChains: 1, Chains: []ChainValue{{Name: "Sepolia", ValuationUSD: 300}}},
			summary:    "Emerging DeFi user building cross-chain presence",
			reasoning:  []string{"Limited to single chain activity", "No leveraged lending exposure", "Early stage user"},
			recommends: "Gradually increase position sizes",
			risk:       "Standard DeFi protocol risks",
		},
		{
			name:       "moderate multichain",
			metrics:    sampleMetrics(),
			summary:    "Active DeFi participant with moderate portfolio size",
			reasoning:  []string{"Diversified across Sepolia and Polygon Amoy networks", "Maintains healthy collateral ratios", "Demonstrates commitment to DeFi protocols"},
			recommends: "Consider expanding to additional L2 networks",
			risk:       "Standard DeFi protocol risks",
		},
		{
			name:       "leveraged whale",
			metrics:    Metrics{TotalTVL: 60000, ActiveChains: 1, AverageHealth: hf(1.1)},
			summary:    "High-value DeFi user with significant cross-chain exposure",
			reasoning:  []string{"Limited to single chain activity", "Moderate risk profile", "Demonstrates commitment to DeFi protocols"},
			recommends: "Explore yield optimization strategies",
			risk:       "Health factor approaching liquidation risk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackInsights(tt.metrics)
			assert.Equal(t, tt.summary, got.Summary)
			assert.Equal(t, tt.reasoning, got.Reasoning)
			assert.Contains(t, got.Recommendations, tt.recommends)
			assert.Contains(t, got.RiskFactors, tt.risk)
		})
	}
}

const coachReply = `{"answer":"Bridge some funds.","actionItems":["Step 1"],"relatedQuestions":["Why?"]}`

func analysisWithTier(tier model.Tier, chainValues ...float64) *model.AnalysisResult {
	r := &model.AnalysisResult{AccessLevel: model.AccessLevel{Tier: tier}}
	for i, v := range chainValues {
		r.Chains = append(r.Chains, model.ChainObservation{Name: fmt.Sprintf("chain-%d", i), ValuationUSD: v})
		r.TotalValueLockedUSD += v
	}
	return r
}

func TestAnswer_Generated(t *testing.T) {
	fc := &fakeCompleter{reply: coachReply}
	s := newTestService(fc, newFakeClock())

	got := s.Answer(context.Background(), CoachRequest{QuestionID: "cross-chain", Analysis: analysisWithTier(model.TierSilver, 1200, 0)})
	assert.Equal(t, model.CoachResponse{
		Question:         "Which chains should I expand to?",
		Answer:           "Bridge some funds.",
		ActionItems:      []string{"Step 1"},
		RelatedQuestions: []string{"Why?"},
	}, got)

	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], "Current Tier: SILVER")
	assert.Contains(t, fc.prompts[0], "Active Chains: 1 - chain-0 ($1200.00)")
	assert.Contains(t, fc.prompts[0], "Sepolia, Polygon Amoy")
}

func TestAnswer_CacheKeyIncludesTier(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeCompleter{reply: coachReply}
	s := newTestService(fc, clock)
	ctx := context.Background()

	s.Answer(ctx, CoachRequest{QuestionID: "next-tier"})
	s.Answer(ctx, CoachRequest{QuestionID: "next-tier"})
	assert.Equal(t, 1, fc.Calls())

	s.Answer(ctx, CoachRequest{QuestionID: "next-tier", Analysis: analysisWithTier(model.TierGold)})
	assert.Equal(t, 2, fc.Calls())

	s.Answer(ctx, CoachRequest{QuestionID: "next-tier", CustomQuestion: "And then?"})
	assert.Equal(t, 3, fc.Calls())

	clock.Advance(5 * time.Minute)
	s.Answer(ctx, CoachRequest{QuestionID: "next-tier"})
	assert.Equal(t, 4, fc.Calls())
}

func TestAnswer_EleventhRequestIsRateLimited(t *testing.T) {
	fc := &fakeCompleter{reply: coachReply}
	s := newTestService(fc, newFakeClock())
	analysis := analysisWithTier(model.TierBronze, 50)

	for i := 0; i < 10; i++ {
		got := s.Answer(context.Background(), CoachRequest{CustomQuestion: fmt.Sprintf("question %d", i), Analysis: analysis})
		require.Equal(t, "Bridge some funds.", got.Answer)
	}

	got := s.Answer(context.Background(), CoachRequest{CustomQuestion: "one more", Analysis: analysis})
	assert.Equal(t, 10, fc.Calls())
	assert.Equal(t, "one more", got.Question)
	assert.Equal(t, RateLimitedAnswer, got.Answer)
	assert.Equal(t, []string{"Wait 1 minute before asking another question", "Consider browsing existing questions first"}, got.ActionItems)

	cached := s.Answer(context.Background(), CoachRequest{CustomQuestion: "question 3", Analysis: analysis})
	assert.Equal(t, "Bridge some funds.", cached.Answer, "cache hits bypass the limiter")

	anon := s.Answer(context.Background(), CoachRequest{CustomQuestion: "anonymous question"})
	assert.Equal(t, "Bridge some funds.", anon.Answer, "anonymous requesters have their own window")
}

func TestAnswer_FallbackPaths(t *testing.T) {
	s := NewService(nil, nil, nil, Options{})
	got := s.Answer(context.Background(), CoachRequest{QuestionID: "improve-risk"})
	assert.Equal(t, "How to improve my risk score?", got.Question)
	assert.Len(t, got.ActionItems, 4)

	custom := s.Answer(context.Background(), CoachRequest{CustomQuestion: "Is staking safe?"})
	assert.Equal(t, "Is staking safe?", custom.Question)
	assert.True(t, strings.HasPrefix(custom.Answer, "Thank you for your question"))

	failing := NewService(&fakeCompleter{reply: `{"actionItems":[]}`}, nil, nil, Options{})
	got = failing.Answer(context.Background(), CoachRequest{QuestionID: "explore-protocols"})
	assert.Equal(t, FallbackAnswer("explore-protocols", ""), got)
}

func TestFallbackAnswer_ReturnsCopies(t *testing.T) {
	a := FallbackAnswer("next-tier", "")
	a.ActionItems[0] = "mutated"
	assert.NotEqual(t, "mutated", FallbackAnswer("next-tier", "").ActionItems[0])
}

func TestQuestions(t *testing.T) {
	assert.Len(t, Questions(nil), 8)

	bronzeSingle := Questions(analysisWithTier(model.TierBronze, 10))
	require.Len(t, bronzeSingle, 10)
	assert.Equal(t, "bronze-upgrade", bronzeSingle[8].ID)
	assert.Equal(t, "multi-chain-start", bronzeSingle[9].ID)

	goldMulti := Questions(analysisWithTier(model.TierGold, 10, 20))
	assert.Len(t, goldMulti, 8)

	assert.Equal(t, "How do I start using multiple chains?", QuestionText("multi-chain-start"))
	assert.Equal(t, GeneralQuestion, QuestionText("nope"))
}

func TestSuggestedQuestions(t *testing.T) {
	newcomer := analysisWithTier(model.TierBronze, 100)
	newcomer.RiskScore = 40
	newcomer.ActivityScore = 30
	assert.Equal(t, []string{
		"How can I increase my portfolio value efficiently on testnets?",
		"Which chain should I expand to next for better diversification?",
		"How can I improve my risk management and safety practices?",
		"How can I increase my DeFi activity score safely?",
	}, SuggestedQuestions(*newcomer))

	veteran := analysisWithTier(model.TierPlatinum, 8000, 7000)
	veteran.RiskScore = 85
	veteran.ActivityScore = 90
	assert.Len(t, SuggestedQuestions(*veteran), 3)
	assert.Equal(t, "How can I optimize my yield farming strategy?", SuggestedQuestions(*veteran)[0])
}
