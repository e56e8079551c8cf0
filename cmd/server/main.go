// Package main is the entry point for the OmniPass analysis service. It scores
// an address across the supported networks and serves the results over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/omnipass/internal/aggregate"
	"github.com/yourorg/omnipass/internal/circuitbreaker"
	"github.com/yourorg/omnipass/internal/commentary"
	"github.com/yourorg/omnipass/internal/config"
	"github.com/yourorg/omnipass/internal/export"
	"github.com/yourorg/omnipass/internal/fetch"
	"github.com/yourorg/omnipass/internal/otel"
	"github.com/yourorg/omnipass/internal/tier"
)

// version is reported by the health endpoints
const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server holds the wired analysis pipeline and its HTTP surface
type Server struct {
	config config.Config

	analyzer   *aggregate.Analyzer
	commentary *commentary.Service
	exporter   *export.Exporter

	// One breaker per live collaborator, keyed by collaborator name
	breakers map[string]*circuitbreaker.CircuitBreaker

	metrics *serverMetrics

	// Inbound limiter for /api routes; nil disables it
	rateLimit *rate.Limiter

	server  *http.Server
	closers []func()
}

// serverMetrics holds the Prometheus collectors of one Server
type serverMetrics struct {
	registry *prometheus.Registry

	requestCounter     *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	fallbackCounter    *prometheus.CounterVec
	tierCounter        *prometheus.CounterVec
	commentaryOutcomes *prometheus.CounterVec
	analysisTVL        prometheus.Histogram
}

// registerMetrics creates the collectors on a registry owned by the server
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnipass_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omnipass_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		fallbackCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnipass_collaborator_fallbacks_total",
				Help: "Collaborator results replaced by deterministic fallbacks",
			},
			[]string{"collaborator"},
		),
		tierCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnipass_analyses_total",
				Help: "Completed analyses by resulting tier",
			},
			[]string{"tier"},
		),
		commentaryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnipass_commentary_requests_total",
				Help: "Commentary requests by kind and how they were served",
			},
			[]string{"kind", "outcome"},
		),
		analysisTVL: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "omnipass_analysis_tvl_usd",
				Help:    "Total value locked per analysed address in USD",
				Buckets: []float64{0, 100, 1000, 5000, 10000, 25000, 100000},
			},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.fallbackCounter,
		m.tierCounter,
		m.commentaryOutcomes,
		m.analysisTVL,
	)

	return m
}

func main() {
	// .env is optional; real environment variables win
	envErr := godotenv.Load()

	setupLogging()
	if envErr != nil {
		logrus.Debugf("No .env file loaded: %v", envErr)
	}

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	NewServer(cfg).Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer wires the collaborators, resolvers, commentary and analyzer.
// Collaborators without credentials are left out and their resolvers serve
// deterministic fallbacks.
func NewServer(cfg config.Config) *Server {
	s := &Server{
		config:   cfg,
		metrics:  registerMetrics(),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}

	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.rateLimit = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, burst)
	}

	chains := cfg.Chains()
	onFallback := func(collaborator string) {
		s.metrics.fallbackCounter.WithLabelValues(collaborator).Inc()
	}
	resolverOpts := func(collaborator string) fetch.ResolverOptions {
		return fetch.ResolverOptions{
			Timeout:    cfg.CollaboratorTimeout,
			Breaker:    s.breaker(collaborator),
			OnFallback: onFallback,
		}
	}

	var (
		balanceSource  fetch.BalanceSource
		activitySource fetch.ActivitySource
		priceSource    fetch.PriceSource
		completer      commentary.Completer
		lending        aggregate.PositionSource
	)

	if cfg.AlchemyAPIKey != "" {
		alchemy := fetch.NewAlchemyClient(cfg.AlchemyAPIKey, chains)
		for id, endpoint := range cfg.RPCEndpoints {
			alchemy.WithEndpoint(id, endpoint)
		}
		balanceSource, activitySource = alchemy, alchemy
		s.closers = append(s.closers, alchemy.Close)
		logrus.Info("Node provider client initialized")
	} else {
		logrus.Warn("ALCHEMY_API_KEY not set, balances come from the deterministic generator")
	}

	if cfg.CoinGeckoURL != "" {
		priceSource = fetch.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey)
	}

	if cfg.GeminiAPIKey != "" {
		gemini := fetch.NewGeminiClient(cfg.GeminiURL, cfg.GeminiModel, cfg.GeminiAPIKey, cfg.GeminiMaxTokens)
		completer = fetch.NewGuardedCompleter(gemini, s.breaker(fetch.CollaboratorGemini))
		logrus.Info("Generative commentary enabled")
	} else {
		logrus.Warn("GEMINI_API_KEY not set, commentary uses templates only")
	}

	if cfg.LendingDataEnabled {
		lending = fetch.NewLendingResolver(fetch.DeterministicBalances{}, resolverOpts(fetch.CollaboratorLending))
	}

	networks := make([]string, 0, len(chains))
	for _, c := range chains {
		networks = append(networks, c.Name)
	}
	gateOpts := commentary.GateOptions{
		CacheTTL: cfg.CommentaryCacheTTL,
		Window:   cfg.CommentaryRateWindow,
		Limit:    cfg.CommentaryRateLimit,
	}
	s.commentary = commentary.NewService(
		completer,
		commentary.NewGate(gateOpts),
		commentary.NewGate(gateOpts),
		commentary.Options{
			InsightsTimeout: cfg.CollaboratorTimeout,
			CoachTimeout:    cfg.CoachTimeout,
			Networks:        networks,
			Observer: func(kind, outcome string) {
				s.metrics.commentaryOutcomes.WithLabelValues(kind, outcome).Inc()
			},
		},
	)

	s.analyzer = aggregate.NewAnalyzer(
		fetch.NewBalanceResolver(balanceSource, resolverOpts(fetch.CollaboratorBalances)),
		fetch.NewPriceResolver(priceSource, resolverOpts(fetch.CollaboratorPrices)),
		fetch.NewAgeResolver(activitySource, resolverOpts(fetch.CollaboratorActivity)),
		s.commentary,
		aggregate.Options{
			Chains:     chains,
			Thresholds: tier.ForNetwork(cfg.NetworkMode),
			Lending:    lending,
		},
	)

	s.exporter = export.NewExporter(export.Config{
		WebhookURL:    cfg.WebhookURL,
		WebhookAPIKey: cfg.WebhookAPIKey,
		BatchSize:     cfg.ExportBatch,
		Interval:      cfg.ExportInterval,
		RetryMax:      3,
	})

	logrus.WithFields(logrus.Fields{
		"port":         cfg.Port,
		"network_mode": cfg.NetworkMode,
		"chains":       len(chains),
		"rpc_override": len(cfg.RPCEndpoints),
		"lending_data": cfg.LendingDataEnabled,
		"export":       s.exporter != nil,
	}).Info("Server initialized")

	return s
}

// breaker returns the breaker for a collaborator, creating and registering its
// state gauge on first use
func (s *Server) breaker(collaborator string) *circuitbreaker.CircuitBreaker {
	if b, ok := s.breakers[collaborator]; ok {
		return b
	}

	b := circuitbreaker.New(collaborator, circuitbreaker.Options{
		FailureThreshold: s.config.BreakerFailureThreshold,
		CooldownPeriod:   s.config.BreakerCooldown,
	}).WithTripCallback(func(name, reason string) {
		logrus.WithField("collaborator", name).Warnf("Circuit breaker tripped: %s", reason)
	})
	s.breakers[collaborator] = b

	s.metrics.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "omnipass_circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			ConstLabels: prometheus.Labels{"collaborator": collaborator},
		},
		func() float64 { return float64(b.GetState()) },
	))
	return b
}

// Start begins the HTTP server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	s.Close(ctx)

	logrus.Info("Server stopped")
}

// Close flushes the exporter and releases collaborator connections
func (s *Server) Close(ctx context.Context) {
	s.exporter.Stop(ctx)
	for _, closeFn := range s.closers {
		closeFn()
	}
}
