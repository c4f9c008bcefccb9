package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
)

// analyticsResponse is the GET /analytics/summary body.
//
//nolint:tagliatelle // response contract uses snake_case
type analyticsResponse struct {
	TotalTickets  int            `json:"total_tickets"`
	AvgRisk       float64        `json:"avg_risk"`
	HighRiskCount int            `json:"high_risk_count"`
	ByCategory    map[string]int `json:"by_category"`
	BySentiment   map[string]int `json:"by_sentiment"`
}

// handleAnalyticsSummary aggregates ticket statistics: totals, average risk
// rounded to three decimals, the high-risk count, and breakdowns by category
// and sentiment.
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Tickets.Analytics(r.Context())
	if err != nil {
		s.logger.Error("Failed to compute analytics", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to compute analytics"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, analyticsResponse{
		TotalTickets:  summary.TotalTickets,
		AvgRisk:       math.Round(summary.AvgRisk*1000) / 1000,
		HighRiskCount: summary.HighRiskCount,
		ByCategory:    summary.ByCategory,
		BySentiment:   summary.BySentiment,
	})
}

// handleCategories lists the distinct categories present in the store.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.handleDistinct(w, r, "categories", s.deps.Tickets.DistinctCategories)
}

// handleSentiments lists the distinct sentiments present in the store.
func (s *Server) handleSentiments(w http.ResponseWriter, r *http.Request) {
	s.handleDistinct(w, r, "sentiments", s.deps.Tickets.DistinctSentiments)
}

func (s *Server) handleDistinct(
	w http.ResponseWriter,
	r *http.Request,
	what string,
	list func(ctx context.Context) ([]string, error),
) {
	values, err := list(r.Context())
	if err != nil {
		s.logger.Error("Failed to list "+what, slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list "+what))

		return
	}

	if values == nil {
		values = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, values)
}
