// Package retrieval implements hybrid knowledge base retrieval for ticket
// enrichment: dense vector search fused with keyword full-text search,
// followed by optional cross-encoder reranking.
package retrieval

import (
	"fmt"

	"github.com/support-intel/enricher/internal/config"
)

// Defaults for the retrieval configuration surface.
const (
	defaultKBCandidates     = 20
	defaultKBTopK           = 5
	defaultHybridKeywordMax = 20
	defaultEmbeddingModel   = "sentence-transformers/all-MiniLM-L6-v2"
	defaultRerankModel      = "cross-encoder/ms-marco-MiniLM-L-6-v2"
)

// Config holds retrieval tuning parameters.
type Config struct {
	// KBCandidates is the size of the candidate pool fed to the reranker
	KBCandidates int

	// KBTopK is the number of chunks presented to the LLM
	KBTopK int

	// RerankEnabled toggles the cross-encoder second stage
	RerankEnabled bool

	// HybridSearchEnabled toggles the keyword candidate source
	HybridSearchEnabled bool

	// HybridKeywordMax caps keyword entries considered during the merge
	HybridKeywordMax int

	// EmbeddingModel names the dense embedding model
	EmbeddingModel string

	// RerankModel names the cross-encoder model
	RerankModel string
}

// LoadConfig loads retrieval configuration from environment variables with defaults.
func LoadConfig() *Config {
	return &Config{
		KBCandidates:        config.GetEnvInt("KB_CANDIDATES", defaultKBCandidates),
		KBTopK:              config.GetEnvInt("KB_TOP_K", defaultKBTopK),
		RerankEnabled:       config.GetEnvBool("RERANK_ENABLED", true),
		HybridSearchEnabled: config.GetEnvBool("HYBRID_SEARCH_ENABLED", true),
		HybridKeywordMax:    config.GetEnvInt("HYBRID_KEYWORD_MAX", defaultHybridKeywordMax),
		EmbeddingModel:      config.GetEnvStr("EMBEDDING_MODEL", defaultEmbeddingModel),
		RerankModel:         config.GetEnvStr("RERANK_MODEL", defaultRerankModel),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.KBCandidates <= 0 {
		return fmt.Errorf("KB_CANDIDATES must be positive, got %d", c.KBCandidates)
	}

	if c.KBTopK <= 0 {
		return fmt.Errorf("KB_TOP_K must be positive, got %d", c.KBTopK)
	}

	if c.HybridKeywordMax <= 0 {
		return fmt.Errorf("HYBRID_KEYWORD_MAX must be positive, got %d", c.HybridKeywordMax)
	}

	if c.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_MODEL cannot be empty")
	}

	if c.RerankEnabled && c.RerankModel == "" {
		return fmt.Errorf("RERANK_MODEL cannot be empty when reranking is enabled")
	}

	return nil
}
