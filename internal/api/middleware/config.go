package middleware

import (
	"time"

	"github.com/support-intel/enricher/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for two tiers:
//   - Global: applied to all requests
//   - Per-client: applied per remote address
//
// Burst capacity allows temporary bursts above the sustained rate.
// If burst fields are 0, they are computed automatically as 2 x rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int
	ClientRPS int

	// Optional burst capacity overrides (0 = computed as 2 x rate)
	GlobalBurst int
	ClientBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("API_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("API_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("API_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("API_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"API_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("API_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("API_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
