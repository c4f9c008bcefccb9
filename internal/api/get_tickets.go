package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/storage"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

type (
	// ticketResponse is the wire shape of one enriched ticket row. risk is
	// a pointer because pending and failed rows have no score.
	//nolint:tagliatelle // response contract uses snake_case
	ticketResponse struct {
		TicketID       string           `json:"ticket_id"`
		LastEventID    string           `json:"last_event_id"`
		Subject        string           `json:"subject"`
		Body           string           `json:"body"`
		Channel        string           `json:"channel"`
		Priority       string           `json:"priority"`
		CustomerID     string           `json:"customer_id"`
		Status         string           `json:"status"`
		Summary        string           `json:"summary"`
		Category       string           `json:"category"`
		Sentiment      string           `json:"sentiment"`
		Risk           *float64         `json:"risk"`
		SuggestedReply string           `json:"suggested_reply"`
		Citations      []event.Citation `json:"citations,omitempty"`
		CreatedAt      string           `json:"created_at"`
		UpdatedAt      string           `json:"updated_at"`
	}

	// ticketListResponse is the GET /tickets body.
	//nolint:tagliatelle // response contract uses snake_case
	ticketListResponse struct {
		Tickets  []ticketResponse `json:"tickets"`
		Total    int              `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
	}
)

// handleListTickets serves the filtered, sorted, paginated ticket listing.
//
// Unknown sort fields and orders fall back to the defaults silently; range
// violations on numeric parameters are rejected.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter, detail := parseTicketFilter(r.URL.Query())
	if detail != "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(detail))

		return
	}

	page, err := s.deps.Tickets.ListTickets(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list tickets", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list tickets"))

		return
	}

	tickets := make([]ticketResponse, 0, len(page.Tickets))
	for _, ticket := range page.Tickets {
		tickets = append(tickets, toTicketResponse(ticket))
	}

	s.writeJSON(w, r, http.StatusOK, ticketListResponse{
		Tickets:  tickets,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

// handleGetTicket serves a single ticket by its business key.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticket_id")

	ticket, err := s.deps.Tickets.GetTicket(r.Context(), ticketID)
	if errors.Is(err, storage.ErrTicketNotFound) {
		WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Ticket %s not found", ticketID)))

		return
	}

	if err != nil {
		s.logger.Error("Failed to get ticket",
			slog.String("ticket_id", ticketID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to get ticket"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toTicketResponse(ticket))
}

// parseTicketFilter builds a storage filter from the listing query
// parameters, returning a problem detail string on the first violation.
func parseTicketFilter(query url.Values) (storage.TicketFilter, string) {
	filter := storage.TicketFilter{
		Category:  query.Get("category"),
		Sentiment: query.Get("sentiment"),
		SortBy:    query.Get("sort_by"),
		SortDesc:  !strings.EqualFold(query.Get("sort_order"), "asc"),
		Page:      defaultPage,
		PageSize:  defaultPageSize,
	}

	for _, bound := range []struct {
		param string
		dest  **float64
	}{
		{"risk_min", &filter.RiskMin},
		{"risk_max", &filter.RiskMax},
	} {
		raw := query.Get(bound.param)
		if raw == "" {
			continue
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 || value > 1 {
			return filter, bound.param + " must be a number between 0 and 1"
		}

		*bound.dest = &value
	}

	if raw := query.Get("page"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return filter, "page must be a positive integer"
		}

		filter.Page = value
	}

	if raw := query.Get("page_size"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxPageSize {
			return filter, fmt.Sprintf("page_size must be between 1 and %d", maxPageSize)
		}

		filter.PageSize = value
	}

	return filter, ""
}

// toTicketResponse maps a storage row onto the wire shape.
func toTicketResponse(ticket *storage.EnrichedTicket) ticketResponse {
	return ticketResponse{
		TicketID:       ticket.TicketID,
		LastEventID:    ticket.LastEventID,
		Subject:        ticket.Subject,
		Body:           ticket.Body,
		Channel:        ticket.Channel,
		Priority:       ticket.Priority,
		CustomerID:     ticket.CustomerID,
		Status:         ticket.Status,
		Summary:        ticket.Summary,
		Category:       ticket.Category,
		Sentiment:      ticket.Sentiment,
		Risk:           ticket.Risk,
		SuggestedReply: ticket.SuggestedReply,
		Citations:      ticket.Citations,
		CreatedAt:      ticket.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      ticket.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
