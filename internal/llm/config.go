// Package llm adapts the Anthropic Messages API for ticket enrichment: it
// assembles the system directive and KB context, serializes the ticket as the
// user message, and parses the model's JSON annotation from the response,
// stripping markdown fences when the model wraps its output.
package llm

import (
	"fmt"
	"time"

	"github.com/support-intel/enricher/internal/config"
)

// Default model and generation limits.
const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 400
	defaultTimeout   = 60 * time.Second
)

// Config holds LLM adapter configuration.
type Config struct {
	// Model is the Anthropic model name
	Model string

	// APIKey is the opaque bearer credential
	APIKey string

	// MaxTokens caps the generated annotation length
	MaxTokens int

	// RequestTimeout bounds a single model call
	RequestTimeout time.Duration
}

// LoadConfig loads LLM configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Model:          config.GetEnvStr("MODEL", defaultModel),
		APIKey:         config.GetEnvStr("ANTHROPIC_API_KEY", ""),
		MaxTokens:      config.GetEnvInt("LLM_MAX_TOKENS", defaultMaxTokens),
		RequestTimeout: config.GetEnvDuration("LLM_REQUEST_TIMEOUT", defaultTimeout),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("MODEL cannot be empty")
	}

	if c.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY cannot be empty")
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}

	return nil
}
