package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/storage"
)

const (
	eventIDHexLength  = 12
	ticketIDHexLength = 8
)

type (
	// createTicketRequest is the POST /tickets body. ticket_id is optional
	// and generated when absent.
	//nolint:tagliatelle // request contract uses snake_case
	createTicketRequest struct {
		TicketID   string `json:"ticket_id"`
		Subject    string `json:"subject"`
		Body       string `json:"body"`
		Channel    string `json:"channel"`
		Priority   string `json:"priority"`
		CustomerID string `json:"customer_id"`
	}

	// createTicketResponse confirms the ticket was stored and queued.
	//nolint:tagliatelle // response contract uses snake_case
	createTicketResponse struct {
		EventID  string `json:"event_id"`
		TicketID string `json:"ticket_id"`
		Message  string `json:"message"`
		Status   string `json:"status"`
	}
)

// handleCreateTicket stores the raw ticket as pending, so it is immediately
// visible on the query surface, then publishes a TicketEvent to the input
// topic for asynchronous enrichment.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	var req createTicketRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON body: "+err.Error()))

		return
	}

	if detail := validateCreateTicket(&req); detail != "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(detail))

		return
	}

	eventID := "evt-" + uuidHex(eventIDHexLength)

	ticketID := req.TicketID
	if ticketID == "" {
		ticketID = "TICKET-" + strings.ToUpper(uuidHex(ticketIDHexLength))
	}

	if err := s.deps.Tickets.CreatePending(r.Context(), &storage.PendingTicket{
		TicketID:   ticketID,
		EventID:    eventID,
		Subject:    req.Subject,
		Body:       req.Body,
		Channel:    req.Channel,
		Priority:   req.Priority,
		CustomerID: req.CustomerID,
	}); err != nil {
		s.logger.Error("Failed to store pending ticket",
			slog.String("ticket_id", ticketID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create ticket"))

		return
	}

	payload, err := event.EncodeTicket(&event.TicketEvent{
		SchemaVersion: event.TicketEventSchemaVersion,
		EventID:       eventID,
		TicketID:      ticketID,
		TS:            time.Now().UTC().Format(time.RFC3339),
		Subject:       req.Subject,
		Body:          req.Body,
		Channel:       req.Channel,
		Priority:      req.Priority,
		CustomerID:    req.CustomerID,
	})
	if err != nil {
		s.logger.Error("Ticket event invalid",
			slog.String("ticket_id", ticketID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Ticket event invalid: "+err.Error()))

		return
	}

	if err := s.deps.Publisher.Publish(r.Context(), []byte(ticketID), payload); err != nil {
		s.logger.Error("Failed to publish ticket event",
			slog.String("ticket_id", ticketID),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to queue ticket for enrichment"))

		return
	}

	s.logger.Info("Ticket created and queued for enrichment",
		slog.String("ticket_id", ticketID),
		slog.String("event_id", eventID),
	)

	s.writeJSON(w, r, http.StatusCreated, createTicketResponse{
		EventID:  eventID,
		TicketID: ticketID,
		Message:  "Ticket created and queued for enrichment",
		Status:   storage.StatusPending,
	})
}

// validateCreateTicket returns a human-readable detail string for the first
// violated rule, or "" when the request is valid.
func validateCreateTicket(req *createTicketRequest) string {
	switch {
	case strings.TrimSpace(req.Subject) == "":
		return "subject is required"
	case strings.TrimSpace(req.Body) == "":
		return "body is required"
	case strings.TrimSpace(req.Channel) == "":
		return "channel is required"
	case strings.TrimSpace(req.Priority) == "":
		return "priority is required"
	default:
		return ""
	}
}

// uuidHex returns the first n hex characters of a fresh UUID.
func uuidHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
