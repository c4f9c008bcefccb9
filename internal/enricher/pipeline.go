// Package enricher runs the consume-enrich-commit loop: it fetches ticket
// events, checks the idempotency ledger, retrieves KB context, calls the
// model, normalizes the annotation, commits the enrichment transactionally,
// publishes the enriched event, and only then advances the consumer offset.
// Poison messages are packaged to the DLQ instead of blocking the partition.
package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/support-intel/enricher/internal/config"
	"github.com/support-intel/enricher/internal/enrichment"
	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/kafka"
	"github.com/support-intel/enricher/internal/kb"
	"github.com/support-intel/enricher/internal/llm"
	"github.com/support-intel/enricher/internal/retrieval"
	"github.com/support-intel/enricher/internal/storage"
)

// ErrIncompleteDeps is returned when the pipeline is constructed without one
// of its collaborators.
var ErrIncompleteDeps = errors.New("pipeline dependencies incomplete")

type (
	// Consumer is the inbound side of the bus.
	Consumer interface {
		Fetch(ctx context.Context) (kafka.Message, error)
		Commit(ctx context.Context, msg kafka.Message) error
	}

	// Publisher is the outbound side of the bus for enriched events.
	Publisher interface {
		Publish(ctx context.Context, key, value []byte) error
	}

	// DeadLetterer publishes failed messages to the DLQ topic.
	DeadLetterer interface {
		Publish(ctx context.Context, msg kafka.Message, cause error) error
	}

	// TicketWriter is the slice of the ticket store the pipeline needs:
	// the idempotency ledger check and the two terminal writes.
	TicketWriter interface {
		WasProcessed(ctx context.Context, eventID string) (bool, error)
		CommitEnrichment(ctx context.Context, rec *storage.EnrichmentRecord) error
		MarkFailed(ctx context.Context, ticketID string) error
	}

	// ChunkRetriever produces the KB chunks grounding an enrichment.
	ChunkRetriever interface {
		Retrieve(ctx context.Context, query string) ([]kb.Chunk, error)
	}

	// Deps wires the pipeline's collaborators.
	Deps struct {
		Consumer   Consumer
		Publisher  Publisher
		DLQ        DeadLetterer
		Store      TicketWriter
		Retriever  ChunkRetriever
		Annotator  llm.Annotator
		Normalizer *enrichment.Normalizer
	}

	// Pipeline is the single-threaded consumer loop. Horizontal scale comes
	// from partitioning the input topic, not from parallelism inside one
	// instance: per-partition ordering depends on sequential handling.
	Pipeline struct {
		deps   Deps
		logger *slog.Logger
	}
)

// NewPipeline creates the consumer pipeline from its collaborators.
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Consumer == nil:
		return nil, fmt.Errorf("%w: consumer is nil", ErrIncompleteDeps)
	case deps.Publisher == nil:
		return nil, fmt.Errorf("%w: publisher is nil", ErrIncompleteDeps)
	case deps.DLQ == nil:
		return nil, fmt.Errorf("%w: dlq producer is nil", ErrIncompleteDeps)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: ticket store is nil", ErrIncompleteDeps)
	case deps.Retriever == nil:
		return nil, fmt.Errorf("%w: retriever is nil", ErrIncompleteDeps)
	case deps.Annotator == nil:
		return nil, fmt.Errorf("%w: annotator is nil", ErrIncompleteDeps)
	}

	if deps.Normalizer == nil {
		deps.Normalizer = enrichment.NewNormalizer(nil)
	}

	return &Pipeline{
		deps: deps,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Run consumes messages until the context is canceled. A message already in
// flight when shutdown starts is finished and its offset committed before the
// loop exits.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("enrichment pipeline started")

	for {
		msg, err := p.deps.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("enrichment pipeline stopping")
				return nil
			}

			// Bus-level errors are usually transient. Nothing was
			// fetched, so there is nothing to commit or dead-letter.
			p.logger.Error("fetch failed", slog.String("error", err.Error()))

			continue
		}

		if err := p.handle(context.WithoutCancel(ctx), msg); err != nil {
			p.logger.Error("message handling failed, offset not committed",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handle processes one message through to an offset commit. It returns an
// error only when the offset must not advance: a failed DLQ write or a failed
// offset commit, both of which lead to redelivery.
func (p *Pipeline) handle(ctx context.Context, msg kafka.Message) error {
	duplicate, err := p.process(ctx, msg)
	if err != nil {
		cause := err
		if !isPoison(err) {
			cause = fmt.Errorf("unexpected: %w", err)
		}

		// Best-effort dead-lettering: if the DLQ write fails the offset
		// stays put and the message is re-consumed.
		if dlqErr := p.deps.DLQ.Publish(ctx, msg, cause); dlqErr != nil {
			return fmt.Errorf("dlq publish failed: %w", dlqErr)
		}

		p.markFailed(ctx, msg.Value)

		p.logger.Warn("message dead-lettered",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", cause.Error()),
		)

		return p.deps.Consumer.Commit(ctx, msg)
	}

	if duplicate {
		p.logger.Info("duplicate event skipped",
			slog.Int64("offset", msg.Offset),
		)
	}

	return p.deps.Consumer.Commit(ctx, msg)
}

// process runs the enrichment flow for one message. The returned bool marks
// an already-processed event, which commits the offset without side effects.
func (p *Pipeline) process(ctx context.Context, msg kafka.Message) (bool, error) {
	ticket, err := event.DecodeTicket(msg.Value)
	if err != nil {
		return false, err
	}

	processed, err := p.deps.Store.WasProcessed(ctx, ticket.EventID)
	if err != nil {
		return false, fmt.Errorf("ledger check failed: %w", err)
	}

	if processed {
		return true, nil
	}

	query := retrieval.BuildQuery(ticket.Subject, ticket.Body)

	chunks, err := p.deps.Retriever.Retrieve(ctx, query)
	if err != nil {
		return false, fmt.Errorf("retrieval failed: %w", err)
	}

	raw, err := p.deps.Annotator.Annotate(ctx, ticket, llm.BuildKBContext(chunks, llm.KBContextMaxChars))
	if err != nil {
		return false, err
	}

	annotation := p.deps.Normalizer.Normalize(raw)
	citations := enrichment.CitationsFrom(chunks)

	if err := p.deps.Store.CommitEnrichment(ctx, &storage.EnrichmentRecord{
		TicketID:       ticket.TicketID,
		EventID:        ticket.EventID,
		Subject:        ticket.Subject,
		Body:           ticket.Body,
		Channel:        ticket.Channel,
		Priority:       ticket.Priority,
		CustomerID:     ticket.CustomerID,
		Summary:        annotation.Summary,
		Category:       annotation.Category,
		Sentiment:      annotation.Sentiment,
		Risk:           annotation.Risk,
		SuggestedReply: annotation.SuggestedReply,
		Citations:      citations,
	}); err != nil {
		return false, err
	}

	// ts is the processing time, not the input event's timestamp.
	payload, err := event.EncodeEnriched(&event.EnrichedEvent{
		SchemaVersion:  event.EnrichedEventSchemaVersion,
		EventID:        ticket.EventID,
		TicketID:       ticket.TicketID,
		TS:             time.Now().UTC().Format(time.RFC3339),
		Summary:        annotation.Summary,
		Category:       annotation.Category,
		Sentiment:      annotation.Sentiment,
		Risk:           annotation.Risk,
		SuggestedReply: annotation.SuggestedReply,
		Citations:      citations,
	})
	if err != nil {
		return false, err
	}

	// Keyed by ticket_id so downstream per-ticket ordering survives as long
	// as the input topic is partitioned the same way.
	if err := p.deps.Publisher.Publish(ctx, []byte(ticket.TicketID), payload); err != nil {
		return false, fmt.Errorf("publish failed: %w", err)
	}

	p.logger.Info("ticket enriched",
		slog.String("ticket_id", ticket.TicketID),
		slog.String("event_id", ticket.EventID),
		slog.String("category", annotation.Category),
		slog.Float64("risk", annotation.Risk),
	)

	return false, nil
}

// markFailed flags the ticket row as failed when a ticket_id can be pulled
// out of the raw payload without schema validation. Best-effort only.
func (p *Pipeline) markFailed(ctx context.Context, raw []byte) {
	ticketID := extractTicketID(raw)
	if ticketID == "" {
		return
	}

	if err := p.deps.Store.MarkFailed(ctx, ticketID); err != nil {
		p.logger.Warn("failed to mark ticket as failed",
			slog.String("ticket_id", ticketID),
			slog.String("error", err.Error()),
		)
	}
}

// isPoison reports whether the error is terminal for this message: malformed
// or schema-violating input, or a model response that cannot be used. All
// other errors are treated as unexpected and prefixed accordingly in the DLQ
// record.
func isPoison(err error) bool {
	var (
		decodeErr *event.DecodeError
		schemaErr *event.SchemaError
	)

	return errors.Is(err, event.ErrEmptyPayload) ||
		errors.As(err, &decodeErr) ||
		errors.As(err, &schemaErr) ||
		errors.Is(err, llm.ErrUnparseableResponse) ||
		errors.Is(err, llm.ErrNoTextContent)
}

// extractTicketID probes the raw payload for a ticket_id without validating
// the rest of the event.
func extractTicketID(raw []byte) string {
	var probe struct {
		TicketID string `json:"ticket_id"` //nolint:tagliatelle // wire contract uses snake_case
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}

	return probe.TicketID
}
