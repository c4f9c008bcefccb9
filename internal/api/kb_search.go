package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/support-intel/enricher/internal/kb"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type (
	// kbSearchResult is one matching chunk in the GET /kb/search body.
	//nolint:tagliatelle // response contract uses snake_case
	kbSearchResult struct {
		ChunkID     int64  `json:"chunk_id"`
		DocID       int64  `json:"doc_id"`
		ChunkIndex  int    `json:"chunk_index"`
		Content     string `json:"content"`
		Title       string `json:"title"`
		HeadingPath string `json:"heading_path"`
	}

	kbSearchResponse struct {
		Query   string           `json:"query"`
		Count   int              `json:"count"`
		Results []kbSearchResult `json:"results"`
	}
)

// handleKBSearch serves a simple substring search over stored chunk content.
// This is a browse endpoint for operators; the enrichment pipeline uses the
// hybrid retriever instead.
func (s *Server) handleKBSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("q is required"))

		return
	}

	limit := defaultSearchLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxSearchLimit {
			WriteErrorResponse(w, r, s.logger,
				UnprocessableEntity(fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit)))

			return
		}

		limit = value
	}

	chunks, err := s.deps.KB.SearchContent(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("Failed to search knowledge base",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to search knowledge base"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, kbSearchResponse{
		Query:   query,
		Count:   len(chunks),
		Results: toSearchResults(chunks),
	})
}

func toSearchResults(chunks []kb.Chunk) []kbSearchResult {
	results := make([]kbSearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		results = append(results, kbSearchResult{
			ChunkID:     chunk.ID,
			DocID:       chunk.DocID,
			ChunkIndex:  chunk.ChunkIndex,
			Content:     chunk.Content,
			Title:       chunk.Title,
			HeadingPath: chunk.HeadingPath,
		})
	}

	return results
}
