package inference

import "sync"

// Registry caches model handles keyed by model name. Handles are built
// lazily on first use; asking for a different model name evicts the previous
// handle and builds a fresh one. Safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	buildEmbedder func(model string) Embedder
	buildReranker func(model string) Reranker

	embedder Embedder
	reranker Reranker
}

// NewRegistry creates a registry producing HTTP-backed model handles.
func NewRegistry(cfg *Config) *Registry {
	return &Registry{
		buildEmbedder: func(model string) Embedder { return NewHTTPEmbedder(cfg, model) },
		buildReranker: func(model string) Reranker { return NewHTTPReranker(cfg, model) },
	}
}

// NewRegistryWith creates a registry with custom handle constructors.
func NewRegistryWith(
	buildEmbedder func(model string) Embedder,
	buildReranker func(model string) Reranker,
) *Registry {
	return &Registry{
		buildEmbedder: buildEmbedder,
		buildReranker: buildReranker,
	}
}

// Embedder returns the cached embedding handle for model, building it on
// first use or when the model name changed.
func (r *Registry) Embedder(model string) Embedder {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.embedder == nil || r.embedder.Model() != model {
		r.embedder = r.buildEmbedder(model)
	}

	return r.embedder
}

// Reranker returns the cached rerank handle for model, building it on first
// use or when the model name changed.
func (r *Registry) Reranker(model string) Reranker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reranker == nil || r.reranker.Model() != model {
		r.reranker = r.buildReranker(model)
	}

	return r.reranker
}
