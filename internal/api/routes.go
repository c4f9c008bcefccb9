package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health and service information
	mux.HandleFunc("GET /health", s.handleHealth)

	// Ticket ingestion and queries
	mux.HandleFunc("POST /tickets", s.handleCreateTicket)
	mux.HandleFunc("GET /tickets", s.handleListTickets)
	mux.HandleFunc("GET /tickets/{ticket_id}", s.handleGetTicket)

	// Analytics and vocabulary
	mux.HandleFunc("GET /analytics/summary", s.handleAnalyticsSummary)
	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("GET /sentiments", s.handleSentiments)

	// Knowledge base
	mux.HandleFunc("POST /kb/upload", s.handleKBUpload)
	mux.HandleFunc("GET /kb/search", s.handleKBSearch)

	// Catch-all handler for 404 responses
	mux.HandleFunc("/", s.handleNotFound)
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// handleHealth reports service health including a bounded database probe.
// The endpoint itself always answers 200; a broken database degrades the
// reported status instead of failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	database := "healthy"

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		status = "degraded"
		database = "unhealthy: " + err.Error()
	}

	s.writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    status,
		Database:  database,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals the value and writes it with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		// Headers already sent, log only
		s.logger.Error("Failed to write response",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
