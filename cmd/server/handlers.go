package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/omnipass/internal/commentary"
	"github.com/yourorg/omnipass/internal/credential"
	"github.com/yourorg/omnipass/internal/export"
	"github.com/yourorg/omnipass/internal/model"
	"github.com/yourorg/omnipass/internal/types"
	"github.com/yourorg/omnipass/internal/validation"
)

// routes builds the HTTP handler. /api routes share the inbound rate limiter.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	api := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.instrument(pattern, s.limited(h)))
	}

	api("GET /api/analysis/{address}", s.handleAnalyzeAddress)
	api("POST /api/analysis/user", s.handleAnalyzeUser)
	api("GET /api/analysis/chains", s.handleChains)
	api("GET /api/analysis/faucets", s.handleFaucets)
	api("GET /api/analysis/health", s.handleAnalysisHealth)

	api("POST /api/coach/ask", s.handleCoachAsk)
	api("GET /api/coach/questions", s.handleCoachQuestions)
	api("GET /api/coach/questions/{address}", s.handleCoachQuestions)
	api("GET /api/coach/suggestions/{address}", s.handleCoachSuggestions)
	api("GET /api/coach/health", s.handleCoachHealth)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /circuit/reset", s.handleCircuitReset)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	return mux
}

// handleHealth is a simple liveness endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports uptime, network mode, breaker states, commentary cache
// sizes and exporter state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b.GetState().String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "operational",
		"uptime":           time.Since(startTime).String(),
		"version":          version,
		"network_mode":     s.config.NetworkMode,
		"chains":           len(s.analyzer.Chains()),
		"circuit_state":    breakers,
		"commentary_cache": s.commentary.CacheSizes(),
		"export":           s.exporter.Status(),
	})
}

// handleCircuitReset closes every collaborator breaker
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	for _, b := range s.breakers {
		b.Reset()
	}
	logrus.Info("Circuit breakers reset")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Circuit breakers reset",
	})
}

func (s *Server) handleAnalyzeAddress(w http.ResponseWriter, r *http.Request) {
	s.analyze(w, r, r.PathValue("address"), time.Now())
}

// analysisRequest is the body of POST /api/analysis/user
type analysisRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleAnalyzeUser(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", start)
		return
	}
	if req.Address == "" {
		errorResponse(w, http.StatusBadRequest, "Address is required", start)
		return
	}

	s.analyze(w, r, req.Address, start)
}

// analyze runs one analysis and writes it with its credential payload
func (s *Server) analyze(w http.ResponseWriter, r *http.Request, raw string, start time.Time) {
	result, err := s.analyzer.Analyze(r.Context(), raw)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidAddress) {
			errorResponse(w, http.StatusBadRequest, "Invalid Ethereum address format", start)
			return
		}
		errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err), start)
		return
	}

	s.record(result)

	response := map[string]interface{}{
		"success":        true,
		"data":           result,
		"processingTime": elapsedMillis(start),
	}
	if cred, err := credential.Build(result); err != nil {
		logrus.WithField("address", result.Address).Warnf("Failed to build credential: %v", err)
	} else {
		response["credential"] = cred
	}

	writeJSON(w, http.StatusOK, response)
}

// record feeds a finished analysis into metrics and the exporter
func (s *Server) record(result *model.AnalysisResult) {
	s.metrics.tierCounter.WithLabelValues(result.AccessLevel.Tier.String()).Inc()
	s.metrics.analysisTVL.Observe(result.TotalValueLockedUSD)
	s.exporter.Add(export.SummaryOf(result))
}

// chainInfo is a chain as listed by the chains endpoint
type chainInfo struct {
	types.ChainConfig
	Status string `json:"status"`
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	chains := s.analyzer.Chains()
	data := make([]chainInfo, 0, len(chains))
	for _, c := range chains {
		data = append(data, chainInfo{ChainConfig: c, Status: "active"})
	}

	response := map[string]interface{}{
		"success": true,
		"data":    data,
		"mode":    s.config.NetworkMode,
	}
	if s.config.NetworkMode == types.NetworkTestnet {
		response["note"] = "These are testnets for development and demonstration purposes"
	}
	writeJSON(w, http.StatusOK, response)
}

// faucet describes where to get test funds for one chain
type faucet struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Asset string `json:"asset"`
	Chain string `json:"chain"`
	Note  string `json:"note"`
}

var faucetInstructions = []string{
	"1. Connect your wallet to the respective testnet",
	"2. Visit the faucet URL",
	"3. Enter your wallet address",
	"4. Request testnet tokens",
	"5. Wait for transaction confirmation",
}

func (s *Server) handleFaucets(w http.ResponseWriter, r *http.Request) {
	faucets := []faucet{}
	for _, c := range s.analyzer.Chains() {
		if c.Faucet == "" {
			continue
		}
		faucets = append(faucets, faucet{
			Name:  c.Name + " Faucet",
			URL:   c.Faucet,
			Asset: c.NativeSymbol,
			Chain: c.Name,
			Note:  fmt.Sprintf("Get free %s for testing on %s", c.NativeSymbol, c.Name),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"faucets":      faucets,
		"instructions": faucetInstructions,
	})
}

func (s *Server) handleAnalysisHealth(w http.ResponseWriter, r *http.Request) {
	networks := []string{}
	for _, c := range s.analyzer.Chains() {
		networks = append(networks, fmt.Sprintf("%s (%d)", c.Name, c.ID))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"status":    fmt.Sprintf("Analysis service operational (%s mode)", s.config.NetworkMode),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]bool{
			"alchemy":   s.config.AlchemyAPIKey != "",
			"coingecko": s.config.CoinGeckoURL != "",
			"gemini":    s.commentary.Enabled(),
		},
		"supportedNetworks": networks,
		"mode":              s.config.NetworkMode,
	})
}

// personalAnalysis analyses raw for personalised coaching. Missing or malformed
// addresses and failed analyses yield nil.
func (s *Server) personalAnalysis(ctx context.Context, raw string) *model.AnalysisResult {
	if raw == "" || !validation.IsValidAddress(raw) {
		return nil
	}
	result, err := s.analyzer.Analyze(ctx, raw)
	if err != nil {
		logrus.WithField("address", raw).Warnf("Could not analyse address for coaching: %v", err)
		return nil
	}
	s.record(result)
	return result
}

// coachRequest is the body of POST /api/coach/ask
type coachRequest struct {
	QuestionID     string `json:"questionId"`
	CustomQuestion string `json:"customQuestion"`
	Address        string `json:"address"`
}

func (s *Server) handleCoachAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req coachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", start)
		return
	}
	if req.QuestionID == "" && req.CustomQuestion == "" {
		errorResponse(w, http.StatusBadRequest, "Either questionId or customQuestion is required", start)
		return
	}

	analysis := s.personalAnalysis(r.Context(), req.Address)
	answer := s.commentary.Answer(r.Context(), commentary.CoachRequest{
		QuestionID:     req.QuestionID,
		CustomQuestion: req.CustomQuestion,
		Analysis:       analysis,
	})

	response := map[string]interface{}{
		"success":            true,
		"data":               answer,
		"processingTime":     elapsedMillis(start),
		"personalizedAdvice": analysis != nil,
	}
	if analysis != nil {
		response["userTier"] = analysis.AccessLevel.Tier
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCoachQuestions(w http.ResponseWriter, r *http.Request) {
	analysis := s.personalAnalysis(r.Context(), r.PathValue("address"))

	suggested := []string{}
	if analysis != nil {
		suggested = commentary.SuggestedQuestions(*analysis)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":              true,
		"questions":            commentary.Questions(analysis),
		"suggestedQuestions":   suggested,
		"personalizedResponse": analysis != nil,
	})
}

func (s *Server) handleCoachSuggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw := r.PathValue("address")
	if !validation.IsValidAddress(raw) {
		errorResponse(w, http.StatusBadRequest, "Valid Ethereum address is required", start)
		return
	}

	analysis, err := s.analyzer.Analyze(r.Context(), raw)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get personalized suggestions", start)
		return
	}
	s.record(analysis)

	suggestions := commentary.SuggestedQuestions(*analysis)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"suggestions":     suggestions,
		"userTier":        analysis.AccessLevel.Tier,
		"tvl":             analysis.TotalValueLockedUSD,
		"riskScore":       analysis.RiskScore,
		"recommendations": len(suggestions),
	})
}

var coachFeatures = []string{
	"Personalized DeFi coaching",
	"Tier advancement guidance",
	"Risk management advice",
	"Protocol recommendations",
	"Caching and rate limiting",
}

func (s *Server) handleCoachHealth(w http.ResponseWriter, r *http.Request) {
	enabled := s.commentary.Enabled()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"status":              "AI Coach service operational",
		"features":            coachFeatures,
		"availableQuestions":  len(commentary.Questions(nil)),
		"geminiApiConfigured": enabled,
		"fallbackMode":        !enabled,
	})
}
