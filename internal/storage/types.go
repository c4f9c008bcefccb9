package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/support-intel/enricher/internal/event"
)

// Ticket lifecycle statuses.
const (
	StatusPending  = "pending"
	StatusEnriched = "enriched"
	StatusFailed   = "failed"
)

// Sentinel errors for ticket storage operations.
var (
	// ErrTicketNotFound is returned when a ticket lookup matches no row.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrTicketStoreFailed is returned when a ticket storage operation fails.
	ErrTicketStoreFailed = errors.New("ticket storage failed")

	// ErrKBStoreFailed is returned when a knowledge base storage operation fails.
	ErrKBStoreFailed = errors.New("knowledge base storage failed")
)

type (
	// Querier abstracts *sql.DB-style and *sql.Tx-style execution so the
	// idempotency ledger can run both inside the writer transaction and as a
	// standalone duplicate check.
	Querier interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}

	// EnrichedTicket is a row of the enriched_tickets table. Risk is a
	// pointer because pending rows have not been scored yet.
	EnrichedTicket struct {
		TicketID       string
		LastEventID    string
		Subject        string
		Body           string
		Channel        string
		Priority       string
		CustomerID     string
		Status         string
		Summary        string
		Category       string
		Sentiment      string
		Risk           *float64
		SuggestedReply string
		Citations      []event.Citation
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// EnrichmentRecord carries everything the writer commits for one event:
	// the ticket fields from the input event plus the normalized enrichment.
	EnrichmentRecord struct {
		TicketID       string
		EventID        string
		Subject        string
		Body           string
		Channel        string
		Priority       string
		CustomerID     string
		Summary        string
		Category       string
		Sentiment      string
		Risk           float64
		SuggestedReply string
		Citations      []event.Citation
	}

	// PendingTicket is the raw ticket row written by the ingestion surface
	// before enrichment happens.
	PendingTicket struct {
		TicketID   string
		EventID    string
		Subject    string
		Body       string
		Channel    string
		Priority   string
		CustomerID string
	}

	// TicketFilter narrows and pages a ticket listing.
	TicketFilter struct {
		RiskMin   *float64
		RiskMax   *float64
		Category  string
		Sentiment string
		SortBy    string // one of: updated_at, risk, ticket_id
		SortDesc  bool
		Page      int
		PageSize  int
	}

	// TicketPage is one page of a ticket listing.
	TicketPage struct {
		Tickets  []*EnrichedTicket
		Total    int
		Page     int
		PageSize int
	}

	// AnalyticsSummary aggregates ticket statistics for the dashboard surface.
	AnalyticsSummary struct {
		TotalTickets  int
		AvgRisk       float64
		HighRiskCount int
		ByCategory    map[string]int
		BySentiment   map[string]int
	}
)
