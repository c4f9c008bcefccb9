package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/support-intel/enricher/internal/config"
	"github.com/support-intel/enricher/internal/inference"
	"github.com/support-intel/enricher/internal/kb"
)

// ErrEmbeddingShape is returned when the embedding backend responds with an
// unexpected number of vectors for the query.
var ErrEmbeddingShape = errors.New("unexpected embedding response shape")

type (
	// ChunkSearcher is the store-side read surface the retriever depends on.
	ChunkSearcher interface {
		// SearchSimilar returns the limit nearest embedded chunks to the query vector.
		SearchSimilar(ctx context.Context, queryVec []float32, limit int) ([]kb.Chunk, error)

		// SearchKeyword returns up to limit full-text matches, ranked.
		SearchKeyword(ctx context.Context, query string, limit int) ([]kb.Chunk, error)
	}

	// Retriever produces the ordered chunk context for one ticket query.
	Retriever struct {
		cfg    *Config
		store  ChunkSearcher
		models *inference.Registry
		logger *slog.Logger
	}
)

// NewRetriever creates a retriever over the given chunk store and model registry.
func NewRetriever(cfg *Config, store ChunkSearcher, models *inference.Registry) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retrieval configuration invalid: %w", err)
	}

	if store == nil {
		return nil, errors.New("chunk store is required")
	}

	if models == nil {
		return nil, errors.New("model registry is required")
	}

	return &Retriever{
		cfg:    cfg,
		store:  store,
		models: models,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// BuildQuery forms the retrieval query from a ticket's subject and body.
func BuildQuery(subject, body string) string {
	return strings.TrimSpace(subject + "\n\n" + body)
}

// Retrieve returns up to KBTopK chunks for the query, in presentation order.
//
// Pipeline: embed the query, collect dense candidates, fuse in keyword
// candidates when hybrid search is on, then rerank (or truncate) down to the
// top K. Given identical candidate sets and reranking disabled, the output is
// a pure function of inputs and parameters.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]kb.Chunk, error) {
	embedder := r.models.Embedder(r.cfg.EmbeddingModel)

	vectors, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: %d vectors for one query", ErrEmbeddingShape, len(vectors))
	}

	dense, err := r.store.SearchSimilar(ctx, vectors[0], r.cfg.KBCandidates)
	if err != nil {
		return nil, fmt.Errorf("dense retrieval failed: %w", err)
	}

	var keyword []kb.Chunk

	if r.cfg.HybridSearchEnabled {
		keyword, err = r.store.SearchKeyword(ctx, query, r.cfg.HybridKeywordMax)
		if err != nil {
			return nil, fmt.Errorf("keyword retrieval failed: %w", err)
		}
	}

	candidates := MergeCandidates(dense, keyword, r.cfg.KBCandidates, r.cfg.HybridKeywordMax)
	if len(candidates) == 0 {
		return nil, nil
	}

	if !r.cfg.RerankEnabled {
		return candidates[:min(r.cfg.KBTopK, len(candidates))], nil
	}

	ranked, err := r.rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval complete",
		slog.Int("dense", len(dense)),
		slog.Int("keyword", len(keyword)),
		slog.Int("selected", len(ranked)),
	)

	return ranked, nil
}

// MergeCandidates fuses dense and keyword candidates deterministically: dense
// order is preserved, then keyword entries are appended in order, skipping
// ids already present, until the merged list reaches maxTotal or maxKeyword
// keyword entries have been added.
func MergeCandidates(dense, keyword []kb.Chunk, maxTotal, maxKeyword int) []kb.Chunk {
	merged := make([]kb.Chunk, 0, len(dense)+len(keyword))
	seen := make(map[int64]bool, len(dense))

	for _, chunk := range dense {
		merged = append(merged, chunk)
		seen[chunk.ID] = true
	}

	added := 0

	for _, chunk := range keyword {
		if len(merged) >= maxTotal || added >= maxKeyword {
			break
		}

		if seen[chunk.ID] {
			continue
		}

		merged = append(merged, chunk)
		seen[chunk.ID] = true
		added++
	}

	return merged
}

// rerank scores every (query, candidate) pair with the cross-encoder and
// keeps the top KBTopK. The sort is stable so equal scores preserve merge order.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []kb.Chunk) ([]kb.Chunk, error) {
	documents := make([]string, len(candidates))
	for i, chunk := range candidates {
		documents[i] = chunk.Content
	}

	reranker := r.models.Reranker(r.cfg.RerankModel)

	scores, err := reranker.Rerank(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	type scored struct {
		chunk kb.Chunk
		score float64
	}

	items := make([]scored, len(candidates))
	for i, chunk := range candidates {
		items[i] = scored{chunk: chunk, score: scores[i]}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	selected := make([]kb.Chunk, 0, min(r.cfg.KBTopK, len(items)))
	for _, item := range items[:min(r.cfg.KBTopK, len(items))] {
		selected = append(selected, item.chunk)
	}

	return selected, nil
}
