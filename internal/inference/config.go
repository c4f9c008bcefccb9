// Package inference provides clients for the embedding and reranking model
// backends. Models are served by an external inference service and are
// treated as pure functions with declared shapes: texts in, vectors or
// scores out. Model handles are cached per model name and rebuilt when the
// configured name changes.
package inference

import (
	"fmt"
	"time"

	"github.com/support-intel/enricher/internal/config"
)

// Config holds inference service connection configuration.
type Config struct {
	// BaseURL is the inference service endpoint
	BaseURL string

	// RequestTimeout bounds a single embed or rerank call
	RequestTimeout time.Duration
}

// LoadConfig loads inference configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		BaseURL:        config.GetEnvStr("INFERENCE_URL", "http://localhost:8085"),
		RequestTimeout: config.GetEnvDuration("INFERENCE_REQUEST_TIMEOUT", 30*time.Second),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("INFERENCE_URL cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("INFERENCE_REQUEST_TIMEOUT must be positive, got %v", c.RequestTimeout)
	}

	return nil
}
