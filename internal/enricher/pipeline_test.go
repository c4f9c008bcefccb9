package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-intel/enricher/internal/enrichment"
	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/kafka"
	"github.com/support-intel/enricher/internal/kb"
	"github.com/support-intel/enricher/internal/llm"
	"github.com/support-intel/enricher/internal/storage"
)

type fakeConsumer struct {
	committed []kafka.Message
	commitErr error
}

func (f *fakeConsumer) Fetch(_ context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("fetch not used in handle tests")
}

func (f *fakeConsumer) Commit(_ context.Context, msg kafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}

	f.committed = append(f.committed, msg)

	return nil
}

type fakePublisher struct {
	keys   [][]byte
	values [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, key, value []byte) error {
	if f.err != nil {
		return f.err
	}

	f.keys = append(f.keys, key)
	f.values = append(f.values, value)

	return nil
}

type deadLettered struct {
	msg   kafka.Message
	cause error
}

type fakeDLQ struct {
	records []deadLettered
	err     error
}

func (f *fakeDLQ) Publish(_ context.Context, msg kafka.Message, cause error) error {
	if f.err != nil {
		return f.err
	}

	f.records = append(f.records, deadLettered{msg: msg, cause: cause})

	return nil
}

type fakeStore struct {
	processed map[string]bool
	commits   []*storage.EnrichmentRecord
	failed    []string

	ledgerErr error
	commitErr error
}

func (f *fakeStore) WasProcessed(_ context.Context, eventID string) (bool, error) {
	if f.ledgerErr != nil {
		return false, f.ledgerErr
	}

	return f.processed[eventID], nil
}

func (f *fakeStore) CommitEnrichment(_ context.Context, rec *storage.EnrichmentRecord) error {
	if f.commitErr != nil {
		return f.commitErr
	}

	f.commits = append(f.commits, rec)

	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, ticketID string) error {
	f.failed = append(f.failed, ticketID)

	return nil
}

type fakeRetriever struct {
	chunks []kb.Chunk
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) ([]kb.Chunk, error) {
	return f.chunks, f.err
}

type fakeAnnotator struct {
	raw       *enrichment.RawAnnotation
	err       error
	kbContext string
}

func (f *fakeAnnotator) Annotate(
	_ context.Context, _ *event.TicketEvent, kbContext string,
) (*enrichment.RawAnnotation, error) {
	f.kbContext = kbContext

	if f.err != nil {
		return nil, f.err
	}

	return f.raw, nil
}

type harness struct {
	pipeline  *Pipeline
	consumer  *fakeConsumer
	publisher *fakePublisher
	dlq       *fakeDLQ
	store     *fakeStore
	retriever *fakeRetriever
	annotator *fakeAnnotator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		consumer:  &fakeConsumer{},
		publisher: &fakePublisher{},
		dlq:       &fakeDLQ{},
		store:     &fakeStore{processed: map[string]bool{}},
		retriever: &fakeRetriever{},
		annotator: &fakeAnnotator{
			raw: &enrichment.RawAnnotation{
				Summary:        "Payment issue",
				Category:       "billing",
				Sentiment:      "negative",
				Risk:           0.5,
				SuggestedReply: "Sorry about that.",
			},
		},
	}

	pipeline, err := NewPipeline(Deps{
		Consumer:   h.consumer,
		Publisher:  h.publisher,
		DLQ:        h.dlq,
		Store:      h.store,
		Retriever:  h.retriever,
		Annotator:  h.annotator,
		Normalizer: enrichment.NewNormalizer(nil),
	})
	require.NoError(t, err)

	h.pipeline = pipeline

	return h
}

func ticketMessage(t *testing.T, mutate func(map[string]any)) kafka.Message {
	t.Helper()

	payload := map[string]any{
		"schema_version": 1,
		"event_id":       "evt-12345678",
		"ticket_id":      "T-1",
		"ts":             "2026-01-28T00:00:00Z",
		"subject":        "Payment failed",
		"body":           "Error 5001",
		"channel":        "email",
		"priority":       "high",
	}

	if mutate != nil {
		mutate(payload)
	}

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)

	return kafka.Message{Topic: "support.tickets.v1", Partition: 0, Offset: 7, Value: encoded}
}

func TestHandleHappyPath(t *testing.T) {
	h := newHarness(t)
	h.retriever.chunks = []kb.Chunk{
		{ID: 12, Title: "Billing FAQ", HeadingPath: "Payments", Content: "Refunds in 14 days"},
	}
	h.annotator.raw = &enrichment.RawAnnotation{
		Summary:        "Payment issue",
		Category:       "Billing & Subscriptions",
		Sentiment:      "frustrated",
		Risk:           1.5,
		SuggestedReply: "Sorry…",
	}

	msg := ticketMessage(t, nil)
	require.NoError(t, h.pipeline.handle(context.Background(), msg))

	// Normalized enrichment committed with the ledger entry.
	require.Len(t, h.store.commits, 1)
	rec := h.store.commits[0]
	assert.Equal(t, "T-1", rec.TicketID)
	assert.Equal(t, "evt-12345678", rec.EventID)
	assert.Equal(t, "billing", rec.Category)
	assert.Equal(t, "negative", rec.Sentiment)
	assert.InDelta(t, 1.0, rec.Risk, 1e-9)
	assert.Equal(t, "Sorry…", rec.SuggestedReply)
	require.Len(t, rec.Citations, 1)
	assert.EqualValues(t, 12, rec.Citations[0].ChunkID)
	assert.Equal(t, "Billing FAQ", rec.Citations[0].Title)
	assert.Equal(t, "Payments", rec.Citations[0].HeadingPath)

	// Enriched event published, keyed by ticket_id.
	require.Len(t, h.publisher.values, 1)
	assert.Equal(t, []byte("T-1"), h.publisher.keys[0])

	out, err := event.DecodeEnriched(h.publisher.values[0])
	require.NoError(t, err)
	assert.Equal(t, event.EnrichedEventSchemaVersion, out.SchemaVersion)
	assert.Equal(t, "evt-12345678", out.EventID)
	assert.NotEqual(t, "2026-01-28T00:00:00Z", out.TS, "outbound ts is the processing time")

	// KB context reached the annotator.
	assert.Contains(t, h.annotator.kbContext, "Billing FAQ | Payments")
	assert.Contains(t, h.annotator.kbContext, "Refunds in 14 days")

	// Offset committed last, nothing dead-lettered.
	require.Len(t, h.consumer.committed, 1)
	assert.Equal(t, msg.Offset, h.consumer.committed[0].Offset)
	assert.Empty(t, h.dlq.records)
	assert.Empty(t, h.store.failed)
}

func TestHandleDuplicateEvent(t *testing.T) {
	h := newHarness(t)
	h.store.processed["evt-12345678"] = true

	require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

	// Offset advances without any enrichment side effects.
	assert.Len(t, h.consumer.committed, 1)
	assert.Empty(t, h.store.commits)
	assert.Empty(t, h.publisher.values)
	assert.Empty(t, h.dlq.records)
}

func TestHandlePoisonMessage(t *testing.T) {
	t.Run("non-JSON payload goes to the DLQ", func(t *testing.T) {
		h := newHarness(t)
		msg := kafka.Message{Topic: "support.tickets.v1", Offset: 3, Value: []byte("not-json")}

		require.NoError(t, h.pipeline.handle(context.Background(), msg))

		require.Len(t, h.dlq.records, 1)
		assert.Equal(t, msg.Offset, h.dlq.records[0].msg.Offset)

		var decodeErr *event.DecodeError
		assert.ErrorAs(t, h.dlq.records[0].cause, &decodeErr)
		assert.NotContains(t, h.dlq.records[0].cause.Error(), "unexpected:")

		// No ticket_id to extract, so no failed marker.
		assert.Empty(t, h.store.failed)
		assert.Len(t, h.consumer.committed, 1)
	})

	t.Run("schema violation marks the ticket failed", func(t *testing.T) {
		h := newHarness(t)
		msg := ticketMessage(t, func(payload map[string]any) {
			delete(payload, "priority")
		})

		require.NoError(t, h.pipeline.handle(context.Background(), msg))

		require.Len(t, h.dlq.records, 1)

		var schemaErr *event.SchemaError
		require.ErrorAs(t, h.dlq.records[0].cause, &schemaErr)
		assert.Equal(t, "priority", schemaErr.Path)

		assert.Equal(t, []string{"T-1"}, h.store.failed)
		assert.Len(t, h.consumer.committed, 1)
		assert.Empty(t, h.store.commits)
	})

	t.Run("unparseable model output is poison, not unexpected", func(t *testing.T) {
		h := newHarness(t)
		h.annotator.err = llm.ErrUnparseableResponse

		require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

		require.Len(t, h.dlq.records, 1)
		assert.ErrorIs(t, h.dlq.records[0].cause, llm.ErrUnparseableResponse)
		assert.NotContains(t, h.dlq.records[0].cause.Error(), "unexpected:")
	})
}

func TestHandleUnexpectedFailure(t *testing.T) {
	h := newHarness(t)
	h.annotator.err = errors.New("rate limited")

	require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

	require.Len(t, h.dlq.records, 1)
	assert.Contains(t, h.dlq.records[0].cause.Error(), "unexpected: rate limited")
	assert.Equal(t, []string{"T-1"}, h.store.failed)
	assert.Len(t, h.consumer.committed, 1)
}

func TestHandleDLQFailureBlocksOffset(t *testing.T) {
	h := newHarness(t)
	h.annotator.err = errors.New("model down")
	h.dlq.err = errors.New("dlq broker unavailable")

	err := h.pipeline.handle(context.Background(), ticketMessage(t, nil))

	// The message must be redelivered: no offset commit, no failed marker.
	require.Error(t, err)
	assert.Empty(t, h.consumer.committed)
	assert.Empty(t, h.store.failed)
}

func TestHandleCommitFailureIsUnexpected(t *testing.T) {
	h := newHarness(t)
	h.store.commitErr = errors.New("connection reset")

	require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

	// Store failure dead-letters the message; nothing is published.
	require.Len(t, h.dlq.records, 1)
	assert.Contains(t, h.dlq.records[0].cause.Error(), "unexpected:")
	assert.Empty(t, h.publisher.values)
	assert.Len(t, h.consumer.committed, 1)
}

func TestHandleLedgerFailure(t *testing.T) {
	h := newHarness(t)
	h.store.ledgerErr = errors.New("database offline")

	require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

	require.Len(t, h.dlq.records, 1)
	assert.Contains(t, h.dlq.records[0].cause.Error(), "unexpected:")
	assert.Contains(t, h.dlq.records[0].cause.Error(), "ledger check failed")
}

func TestHandleEmptyRetrieval(t *testing.T) {
	h := newHarness(t)
	h.retriever.chunks = nil

	require.NoError(t, h.pipeline.handle(context.Background(), ticketMessage(t, nil)))

	// No citations, empty KB context, but the enrichment still commits.
	require.Len(t, h.store.commits, 1)
	assert.Empty(t, h.store.commits[0].Citations)
	assert.Empty(t, h.annotator.kbContext)
	assert.Len(t, h.publisher.values, 1)
}

func TestNewPipelineValidatesDeps(t *testing.T) {
	h := newHarness(t)

	deps := Deps{
		Consumer:  h.consumer,
		Publisher: h.publisher,
		DLQ:       h.dlq,
		Store:     h.store,
		Retriever: h.retriever,
		Annotator: h.annotator,
	}

	// Normalizer may be omitted; everything else is required.
	_, err := NewPipeline(deps)
	require.NoError(t, err)

	missing := deps
	missing.Annotator = nil
	_, err = NewPipeline(missing)
	require.ErrorIs(t, err, ErrIncompleteDeps)

	missing = deps
	missing.Consumer = nil
	_, err = NewPipeline(missing)
	require.ErrorIs(t, err, ErrIncompleteDeps)
}

func TestExtractTicketID(t *testing.T) {
	assert.Equal(t, "T-9", extractTicketID([]byte(`{"ticket_id":"T-9","junk":true}`)))
	assert.Empty(t, extractTicketID([]byte("not-json")))
	assert.Empty(t, extractTicketID([]byte(`{"event_id":"evt-1"}`)))
}
