// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/omnipass/internal/types"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Which set of chains and tier thresholds to run against
	NetworkMode types.NetworkMode

	// Node provider credential; empty means balances come from the deterministic generator
	AlchemyAPIKey string

	// Per-chain node provider URLs used verbatim instead of the default endpoint plus key
	RPCEndpoints map[types.ChainID]string

	// Price feed
	CoinGeckoURL    string
	CoinGeckoAPIKey string

	// Generative-language collaborator; empty key means templated commentary only
	GeminiAPIKey    string
	GeminiURL       string
	GeminiModel     string
	GeminiMaxTokens int

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Per-call bound on every external collaborator
	CollaboratorTimeout time.Duration
	CoachTimeout        time.Duration

	// Commentary cache and rate limiter
	CommentaryCacheTTL   time.Duration
	CommentaryRateWindow time.Duration
	CommentaryRateLimit  int

	// Synthesized lending positions on top of wallet holdings
	LendingDataEnabled bool

	// Collaborator circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Inbound HTTP rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Optional webhook export of analysis summaries
	WebhookURL     string
	WebhookAPIKey  string
	ExportBatch    int
	ExportInterval time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                    GetEnvOrDefault("PORT", "8080"),
		NetworkMode:             types.ParseNetworkMode(GetEnvOrDefault("NETWORK_MODE", string(types.NetworkTestnet))),
		AlchemyAPIKey:           strings.TrimSpace(GetEnvOrDefault("ALCHEMY_API_KEY", "")),
		RPCEndpoints:            ParseEndpoints(GetEnvOrDefault("RPC_ENDPOINTS", "")),
		CoinGeckoURL:            GetEnvOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey:         GetEnvOrDefault("COINGECKO_API_KEY", ""),
		GeminiAPIKey:            strings.TrimSpace(GetEnvOrDefault("GEMINI_API_KEY", "")),
		GeminiURL:               GetEnvOrDefault("GEMINI_URL", "https://generativelanguage.googleapis.com/v1beta/models"),
		GeminiModel:             GetEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiMaxTokens:         GetEnvAsInt("GEMINI_MAX_TOKENS", 1000),
		OtelEndpoint:            GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CollaboratorTimeout:     GetEnvAsDuration("COLLABORATOR_TIMEOUT", 10*time.Second),
		CoachTimeout:            GetEnvAsDuration("COACH_TIMEOUT", 15*time.Second),
		CommentaryCacheTTL:      GetEnvAsDuration("COMMENTARY_CACHE_TTL", 5*time.Minute),
		CommentaryRateWindow:    GetEnvAsDuration("COMMENTARY_RATE_WINDOW", time.Minute),
		CommentaryRateLimit:     GetEnvAsInt("COMMENTARY_RATE_LIMIT", 10),
		LendingDataEnabled:      GetEnvAsBool("LENDING_DATA_ENABLED", false),
		BreakerFailureThreshold: GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         GetEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
		RateLimitRPS:            GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:          GetEnvAsInt("RATE_LIMIT_BURST", 20),
		WebhookURL:              GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:           GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		ExportBatch:             GetEnvAsInt("EXPORT_BATCH_SIZE", 50),
		ExportInterval:          GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
	}
}

// Chains returns the chains enabled for the configured network mode
func (c Config) Chains() []types.ChainConfig {
	return types.Chains(c.NetworkMode)
}

// ParseEndpoints reads comma separated chainID=url pairs. Malformed pairs and
// chains that are not supported in any network mode are skipped.
func ParseEndpoints(raw string) map[types.ChainID]string {
	endpoints := make(map[types.ChainID]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idPart, endpoint, ok := strings.Cut(pair, "=")
		endpoint = strings.TrimSpace(endpoint)
		if !ok || endpoint == "" {
			logrus.Warn("Ignoring malformed RPC endpoint entry")
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			logrus.Warn("Ignoring RPC endpoint entry with a non-numeric chain ID")
			continue
		}
		chain, ok := types.LookupChain(types.ChainID(id))
		if !ok {
			logrus.Warnf("Ignoring RPC endpoint for unsupported chain %d", id)
			continue
		}

		endpoints[chain.ID] = endpoint
		logrus.Debugf("Using custom RPC endpoint for %s", chain.Name)
	}
	return endpoints
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
