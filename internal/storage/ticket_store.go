package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/support-intel/enricher/internal/config"
)

// highRiskThreshold marks the risk score above which a ticket counts as
// high-risk in analytics.
const highRiskThreshold = 0.7

// ticketColumns is the shared column list for ticket reads.
const ticketColumns = `ticket_id, last_event_id, subject, body, channel, priority, customer_id,
	status, summary, category, sentiment, risk, suggested_reply, citations, created_at, updated_at`

// ticketSortFields whitelists ORDER BY targets for listings. Values are the
// literal SQL column names; anything else falls back to updated_at.
var ticketSortFields = map[string]string{
	"updated_at": "updated_at",
	"risk":       "risk",
	"ticket_id":  "ticket_id",
}

// TicketStore persists enriched tickets and the processed-event idempotency
// ledger. The enrichment commit and the ledger insert share one transaction,
// which is what turns at-least-once delivery into exactly-once effect.
type TicketStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewTicketStore creates a ticket store backed by the given connection.
func NewTicketStore(conn *Connection) (*TicketStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &TicketStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// WasProcessed reports whether an event id is already in the ledger. Used by
// the consumer's duplicate check before any enrichment work starts.
func (s *TicketStore) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.wasProcessed(ctx, s.conn, eventID)
}

func (s *TicketStore) wasProcessed(ctx context.Context, q Querier, eventID string) (bool, error) {
	var exists bool

	err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)",
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: idempotency check: %w", ErrTicketStoreFailed, err)
	}

	return exists, nil
}

// markProcessed records an event id in the ledger. Insert-if-absent: marking
// an already-present id is not an error.
func (s *TicketStore) markProcessed(ctx context.Context, q Querier, eventID string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING",
		eventID,
	)
	if err != nil {
		return fmt.Errorf("%w: mark processed: %w", ErrTicketStoreFailed, err)
	}

	return nil
}

// CommitEnrichment performs the writer transaction for one event: upsert the
// enriched row keyed by ticket_id, record the event id in the ledger, commit.
// The ledger insert rides in the same transaction so a crash can never
// persist "done" without the work, or the work without "done".
func (s *TicketStore) CommitEnrichment(ctx context.Context, rec *EnrichmentRecord) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrTicketStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var citationsJSON any

	if len(rec.Citations) > 0 {
		data, err := json.Marshal(rec.Citations)
		if err != nil {
			return fmt.Errorf("%w: failed to encode citations: %w", ErrTicketStoreFailed, err)
		}

		citationsJSON = data
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enriched_tickets (
			ticket_id, last_event_id, subject, body, channel, priority, customer_id,
			status, summary, category, sentiment, risk, suggested_reply, citations, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'enriched', $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (ticket_id) DO UPDATE SET
			last_event_id = EXCLUDED.last_event_id,
			status = 'enriched',
			summary = EXCLUDED.summary,
			category = EXCLUDED.category,
			sentiment = EXCLUDED.sentiment,
			risk = EXCLUDED.risk,
			suggested_reply = EXCLUDED.suggested_reply,
			citations = EXCLUDED.citations,
			updated_at = NOW()`,
		rec.TicketID, rec.EventID, rec.Subject, rec.Body, rec.Channel, rec.Priority,
		nullIfEmpty(rec.CustomerID), rec.Summary, rec.Category, rec.Sentiment,
		rec.Risk, rec.SuggestedReply, citationsJSON,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert enriched ticket: %w", ErrTicketStoreFailed, err)
	}

	if err := s.markProcessed(ctx, tx, rec.EventID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTicketStoreFailed, err)
	}

	s.logger.Info("enrichment committed",
		slog.String("ticket_id", rec.TicketID),
		slog.String("event_id", rec.EventID),
		slog.Float64("risk", rec.Risk),
	)

	return nil
}

// MarkFailed sets status='failed' for a ticket in a fresh transaction. It is
// called best-effort on the DLQ path after the main transaction rolled back;
// the caller logs and swallows any error.
func (s *TicketStore) MarkFailed(ctx context.Context, ticketID string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO enriched_tickets (ticket_id, status, updated_at)
		VALUES ($1, 'failed', NOW())
		ON CONFLICT (ticket_id) DO UPDATE SET
			status = 'failed',
			updated_at = NOW()`,
		ticketID,
	)
	if err != nil {
		return fmt.Errorf("%w: mark failed: %w", ErrTicketStoreFailed, err)
	}

	return nil
}

// CreatePending writes the raw ticket row at ingestion time so the ticket is
// visible through the read API before enrichment completes.
func (s *TicketStore) CreatePending(ctx context.Context, ticket *PendingTicket) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO enriched_tickets (
			ticket_id, last_event_id, subject, body, channel, priority, customer_id,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', NOW(), NOW())
		ON CONFLICT (ticket_id) DO UPDATE SET
			last_event_id = EXCLUDED.last_event_id,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			channel = EXCLUDED.channel,
			priority = EXCLUDED.priority,
			customer_id = EXCLUDED.customer_id,
			status = 'pending',
			updated_at = NOW()`,
		ticket.TicketID, ticket.EventID, ticket.Subject, ticket.Body,
		ticket.Channel, ticket.Priority, nullIfEmpty(ticket.CustomerID),
	)
	if err != nil {
		return fmt.Errorf("%w: create pending ticket: %w", ErrTicketStoreFailed, err)
	}

	return nil
}

// GetTicket fetches one ticket by its business key.
func (s *TicketStore) GetTicket(ctx context.Context, ticketID string) (*EnrichedTicket, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+ticketColumns+" FROM enriched_tickets WHERE ticket_id = $1",
		ticketID,
	)

	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get ticket: %w", ErrTicketStoreFailed, err)
	}

	return ticket, nil
}

// ListTickets returns a filtered, sorted, paginated ticket listing together
// with the unpaginated total.
func (s *TicketStore) ListTickets(ctx context.Context, filter TicketFilter) (*TicketPage, error) {
	var (
		conditions []string
		args       []any
	)

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.RiskMin != nil {
		addCondition("risk >= $%d", *filter.RiskMin)
	}

	if filter.RiskMax != nil {
		addCondition("risk <= $%d", *filter.RiskMax)
	}

	if filter.Category != "" {
		addCondition("category = $%d", filter.Category)
	}

	if filter.Sentiment != "" {
		addCondition("sentiment = $%d", filter.Sentiment)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enriched_tickets "+whereClause, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count tickets: %w", ErrTicketStoreFailed, err)
	}

	// Sort field and direction are validated against whitelists, never
	// interpolated from raw input.
	sortField, ok := ticketSortFields[filter.SortBy]
	if !ok {
		sortField = "updated_at"
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	page := max(filter.Page, 1)

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := fmt.Sprintf(
		"SELECT %s FROM enriched_tickets %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		ticketColumns, whereClause, sortField, direction, len(args)+1, len(args)+2,
	)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tickets: %w", ErrTicketStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	tickets := make([]*EnrichedTicket, 0, pageSize)

	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan ticket: %w", ErrTicketStoreFailed, err)
		}

		tickets = append(tickets, ticket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tickets: %w", ErrTicketStoreFailed, err)
	}

	return &TicketPage{
		Tickets:  tickets,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Analytics aggregates ticket statistics: totals, average risk, high-risk
// count, and per-category / per-sentiment breakdowns.
func (s *TicketStore) Analytics(ctx context.Context) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{
		ByCategory:  map[string]int{},
		BySentiment: map[string]int{},
	}

	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(risk), 0),
			COUNT(CASE WHEN risk > $1 THEN 1 END)
		FROM enriched_tickets`,
		highRiskThreshold,
	).Scan(&summary.TotalTickets, &summary.AvgRisk, &summary.HighRiskCount)
	if err != nil {
		return nil, fmt.Errorf("%w: analytics summary: %w", ErrTicketStoreFailed, err)
	}

	if err := s.countBy(ctx, "category", summary.ByCategory); err != nil {
		return nil, err
	}

	if err := s.countBy(ctx, "sentiment", summary.BySentiment); err != nil {
		return nil, err
	}

	return summary, nil
}

// DistinctCategories returns the categories present in the store, sorted.
func (s *TicketStore) DistinctCategories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "category")
}

// DistinctSentiments returns the sentiments present in the store, sorted.
func (s *TicketStore) DistinctSentiments(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "sentiment")
}

// countBy fills dest with per-value row counts for a whitelisted column.
func (s *TicketStore) countBy(ctx context.Context, column string, dest map[string]int) error {
	if column != "category" && column != "sentiment" {
		return fmt.Errorf("%w: unsupported breakdown column %q", ErrTicketStoreFailed, column)
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM enriched_tickets
		WHERE %s IS NOT NULL
		GROUP BY %s
		ORDER BY COUNT(*) DESC`, column, column, column))
	if err != nil {
		return fmt.Errorf("%w: breakdown by %s: %w", ErrTicketStoreFailed, column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			value string
			count int
		)

		if err := rows.Scan(&value, &count); err != nil {
			return fmt.Errorf("%w: scan breakdown: %w", ErrTicketStoreFailed, err)
		}

		dest[value] = count
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate breakdown: %w", ErrTicketStoreFailed, err)
	}

	return nil
}

func (s *TicketStore) distinct(ctx context.Context, column string) ([]string, error) {
	if column != "category" && column != "sentiment" {
		return nil, fmt.Errorf("%w: unsupported distinct column %q", ErrTicketStoreFailed, column)
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s FROM enriched_tickets WHERE %s IS NOT NULL ORDER BY %s",
		column, column, column,
	))
	if err != nil {
		return nil, fmt.Errorf("%w: distinct %s: %w", ErrTicketStoreFailed, column, err)
	}
	defer func() { _ = rows.Close() }()

	var values []string

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("%w: scan distinct: %w", ErrTicketStoreFailed, err)
		}

		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate distinct: %w", ErrTicketStoreFailed, err)
	}

	return values, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*EnrichedTicket, error) {
	var (
		ticket       EnrichedTicket
		lastEventID  sql.NullString
		subject      sql.NullString
		body         sql.NullString
		channel      sql.NullString
		priority     sql.NullString
		customerID   sql.NullString
		summary      sql.NullString
		category     sql.NullString
		sentiment    sql.NullString
		risk         sql.NullFloat64
		reply        sql.NullString
		citationsRaw []byte
		createdAt    sql.NullTime
		updatedAt    sql.NullTime
	)

	if err := row.Scan(
		&ticket.TicketID, &lastEventID, &subject, &body, &channel, &priority, &customerID,
		&ticket.Status, &summary, &category, &sentiment, &risk, &reply, &citationsRaw,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	ticket.LastEventID = lastEventID.String
	ticket.Subject = subject.String
	ticket.Body = body.String
	ticket.Channel = channel.String
	ticket.Priority = priority.String
	ticket.CustomerID = customerID.String
	ticket.Summary = summary.String
	ticket.Category = category.String
	ticket.Sentiment = sentiment.String
	ticket.SuggestedReply = reply.String
	ticket.CreatedAt = createdAt.Time
	ticket.UpdatedAt = updatedAt.Time

	if risk.Valid {
		ticket.Risk = &risk.Float64
	}

	if len(citationsRaw) > 0 {
		if err := json.Unmarshal(citationsRaw, &ticket.Citations); err != nil {
			return nil, fmt.Errorf("failed to decode citations: %w", err)
		}
	}

	return &ticket, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
