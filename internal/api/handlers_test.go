package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/support-intel/enricher/internal/event"
	"github.com/support-intel/enricher/internal/kb"
	"github.com/support-intel/enricher/internal/storage"
)

type fakeTickets struct {
	pending    []*storage.PendingTicket
	createErr  error
	ticket     *storage.EnrichedTicket
	getErr     error
	page       *storage.TicketPage
	listErr    error
	gotFilter  storage.TicketFilter
	summary    *storage.AnalyticsSummary
	categories []string
	sentiments []string
}

func (f *fakeTickets) CreatePending(_ context.Context, ticket *storage.PendingTicket) error {
	if f.createErr != nil {
		return f.createErr
	}

	f.pending = append(f.pending, ticket)

	return nil
}

func (f *fakeTickets) GetTicket(_ context.Context, _ string) (*storage.EnrichedTicket, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	return f.ticket, nil
}

func (f *fakeTickets) ListTickets(_ context.Context, filter storage.TicketFilter) (*storage.TicketPage, error) {
	f.gotFilter = filter

	if f.listErr != nil {
		return nil, f.listErr
	}

	if f.page != nil {
		return f.page, nil
	}

	return &storage.TicketPage{
		Tickets:  nil,
		Total:    0,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (f *fakeTickets) Analytics(_ context.Context) (*storage.AnalyticsSummary, error) {
	return f.summary, nil
}

func (f *fakeTickets) DistinctCategories(_ context.Context) ([]string, error) {
	return f.categories, nil
}

func (f *fakeTickets) DistinctSentiments(_ context.Context) ([]string, error) {
	return f.sentiments, nil
}

type fakeKB struct {
	doc        *kb.Document
	findErr    error
	ingestedID int64
	ingestErr  error
	gotDoc     *kb.Document
	gotChunks  []kb.Chunk
	gotVectors [][]float32
	results    []kb.Chunk
	searchErr  error
	gotTerm    string
	gotLimit   int
}

func (f *fakeKB) FindDocumentBySHA(_ context.Context, _ string) (*kb.Document, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}

	return f.doc, nil
}

func (f *fakeKB) IngestDocument(
	_ context.Context,
	doc *kb.Document,
	_ string,
	_ int,
	chunks []kb.Chunk,
	vectors [][]float32,
) (int64, error) {
	if f.ingestErr != nil {
		return 0, f.ingestErr
	}

	f.gotDoc = doc
	f.gotChunks = chunks
	f.gotVectors = vectors

	return f.ingestedID, nil
}

func (f *fakeKB) SearchContent(_ context.Context, term string, limit int) ([]kb.Chunk, error) {
	f.gotTerm = term
	f.gotLimit = limit

	if f.searchErr != nil {
		return nil, f.searchErr
	}

	return f.results, nil
}

type fakePublisher struct {
	key   []byte
	value []byte
	err   error
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, key, value []byte) error {
	f.calls++

	if f.err != nil {
		return f.err
	}

	f.key = key
	f.value = value

	return nil
}

type fakeEmbedder struct {
	gotTexts []string
	err      error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.gotTexts = texts

	if f.err != nil {
		return nil, f.err
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}

	return vectors, nil
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) HealthCheck(_ context.Context) error {
	return f.err
}

type apiHarness struct {
	handler   http.Handler
	tickets   *fakeTickets
	kb        *fakeKB
	publisher *fakePublisher
	embedder  *fakeEmbedder
	health    *fakeHealth
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	h := &apiHarness{
		tickets:   &fakeTickets{},
		kb:        &fakeKB{findErr: storage.ErrDocumentNotFound, ingestedID: 1},
		publisher: &fakePublisher{},
		embedder:  &fakeEmbedder{},
		health:    &fakeHealth{},
	}

	server := NewServer(LoadServerConfig(), &Dependencies{
		Tickets:   h.tickets,
		KB:        h.kb,
		Publisher: h.publisher,
		Embedder:  h.embedder,
		Health:    h.health,
	})

	h.handler = server.httpServer.Handler

	return h
}

func (h *apiHarness) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestHandleCreateTicket(t *testing.T) {
	validBody := func() []byte {
		return []byte(`{
			"subject": "Payment failed",
			"body": "Error 5001 during checkout",
			"channel": "email",
			"priority": "high",
			"customer_id": "C-42"
		}`)
	}

	t.Run("creates ticket with generated identifiers", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodPost, "/tickets", "application/json", validBody())
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp createTicketResponse
		decodeBody(t, rec, &resp)

		assert.True(t, strings.HasPrefix(resp.EventID, "evt-"))
		assert.Len(t, resp.EventID, len("evt-")+eventIDHexLength)
		assert.True(t, strings.HasPrefix(resp.TicketID, "TICKET-"))
		assert.Len(t, resp.TicketID, len("TICKET-")+ticketIDHexLength)
		assert.Equal(t, storage.StatusPending, resp.Status)

		// The pending row lands before the event is published.
		require.Len(t, h.tickets.pending, 1)
		assert.Equal(t, resp.TicketID, h.tickets.pending[0].TicketID)
		assert.Equal(t, resp.EventID, h.tickets.pending[0].EventID)
		assert.Equal(t, "C-42", h.tickets.pending[0].CustomerID)

		// The published payload is keyed by ticket and decodes cleanly.
		assert.Equal(t, resp.TicketID, string(h.publisher.key))

		evt, err := event.DecodeTicket(h.publisher.value)
		require.NoError(t, err)
		assert.Equal(t, resp.EventID, evt.EventID)
		assert.Equal(t, "Payment failed", evt.Subject)
		assert.Equal(t, "C-42", evt.CustomerID)
	})

	t.Run("honors a supplied ticket id", func(t *testing.T) {
		h := newAPIHarness(t)

		body := []byte(`{
			"ticket_id": "T-1001",
			"subject": "s",
			"body": "b",
			"channel": "chat",
			"priority": "low"
		}`)

		rec := h.do(t, http.MethodPost, "/tickets", "application/json", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp createTicketResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "T-1001", resp.TicketID)
	})

	t.Run("rejects non-JSON content type", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodPost, "/tickets", "text/plain", validBody())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodPost, "/tickets", "application/json", []byte("{not json"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validates required fields", func(t *testing.T) {
		for _, missing := range []string{"subject", "body", "channel", "priority"} {
			t.Run(missing, func(t *testing.T) {
				h := newAPIHarness(t)

				req := map[string]string{
					"subject":  "s",
					"body":     "b",
					"channel":  "email",
					"priority": "high",
				}
				req[missing] = "   "

				body, err := json.Marshal(req)
				require.NoError(t, err)

				rec := h.do(t, http.MethodPost, "/tickets", "application/json", body)
				require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

				var problem ProblemDetail
				decodeBody(t, rec, &problem)
				assert.Equal(t, missing+" is required", problem.Detail)
			})
		}
	})

	t.Run("publish failure surfaces as 500", func(t *testing.T) {
		h := newAPIHarness(t)
		h.publisher.err = errors.New("broker unavailable")

		rec := h.do(t, http.MethodPost, "/tickets", "application/json", validBody())
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleGetTicket(t *testing.T) {
	t.Run("returns the enriched ticket", func(t *testing.T) {
		h := newAPIHarness(t)

		risk := 0.82
		now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
		h.tickets.ticket = &storage.EnrichedTicket{
			TicketID:    "T-1",
			LastEventID: "evt-abc12345",
			Subject:     "Payment failed",
			Status:      storage.StatusEnriched,
			Category:    "billing",
			Sentiment:   "negative",
			Risk:        &risk,
			Citations:   []event.Citation{{ChunkID: 7, Title: "Billing FAQ"}},
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		rec := h.do(t, http.MethodGet, "/tickets/T-1", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ticketResponse
		decodeBody(t, rec, &resp)

		assert.Equal(t, "T-1", resp.TicketID)
		require.NotNil(t, resp.Risk)
		assert.InDelta(t, 0.82, *resp.Risk, 1e-9)
		assert.Equal(t, "2026-02-03T12:00:00Z", resp.CreatedAt)
		require.Len(t, resp.Citations, 1)
		assert.Equal(t, int64(7), resp.Citations[0].ChunkID)
	})

	t.Run("unknown ticket yields 404", func(t *testing.T) {
		h := newAPIHarness(t)
		h.tickets.getErr = storage.ErrTicketNotFound

		rec := h.do(t, http.MethodGet, "/tickets/nope", "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var problem ProblemDetail
		decodeBody(t, rec, &problem)
		assert.Equal(t, "/tickets/nope", problem.Instance)
		assert.NotEmpty(t, problem.RequestID)
	})
}

func TestHandleListTickets(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet, "/tickets", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, defaultPage, h.tickets.gotFilter.Page)
		assert.Equal(t, defaultPageSize, h.tickets.gotFilter.PageSize)
		assert.True(t, h.tickets.gotFilter.SortDesc)
		assert.Nil(t, h.tickets.gotFilter.RiskMin)

		var resp ticketListResponse
		decodeBody(t, rec, &resp)
		assert.Empty(t, resp.Tickets)
	})

	t.Run("parses filters", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet,
			"/tickets?risk_min=0.5&risk_max=0.9&category=billing&sort_order=asc&page=3&page_size=50", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		filter := h.tickets.gotFilter
		require.NotNil(t, filter.RiskMin)
		assert.InDelta(t, 0.5, *filter.RiskMin, 1e-9)
		require.NotNil(t, filter.RiskMax)
		assert.InDelta(t, 0.9, *filter.RiskMax, 1e-9)
		assert.Equal(t, "billing", filter.Category)
		assert.False(t, filter.SortDesc)
		assert.Equal(t, 3, filter.Page)
		assert.Equal(t, 50, filter.PageSize)
	})

	t.Run("rejects out-of-range parameters", func(t *testing.T) {
		tests := []struct {
			name  string
			query string
		}{
			{"risk above one", "risk_min=1.5"},
			{"negative risk", "risk_max=-0.1"},
			{"non-numeric risk", "risk_min=abc"},
			{"zero page", "page=0"},
			{"oversized page_size", "page_size=101"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newAPIHarness(t)

				rec := h.do(t, http.MethodGet, "/tickets?"+tt.query, "", nil)
				assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			})
		}
	})
}

func TestHandleAnalyticsSummary(t *testing.T) {
	h := newAPIHarness(t)
	h.tickets.summary = &storage.AnalyticsSummary{
		TotalTickets:  10,
		AvgRisk:       0.70349,
		HighRiskCount: 3,
		ByCategory:    map[string]int{"billing": 6, "bug": 4},
		BySentiment:   map[string]int{"negative": 7, "neutral": 3},
	}

	rec := h.do(t, http.MethodGet, "/analytics/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp analyticsResponse
	decodeBody(t, rec, &resp)

	assert.Equal(t, 10, resp.TotalTickets)
	assert.InDelta(t, 0.703, resp.AvgRisk, 1e-9) // rounded to three decimals
	assert.Equal(t, 3, resp.HighRiskCount)
	assert.Equal(t, 6, resp.ByCategory["billing"])
}

func TestHandleDistinctValues(t *testing.T) {
	t.Run("lists categories", func(t *testing.T) {
		h := newAPIHarness(t)
		h.tickets.categories = []string{"billing", "bug"}

		rec := h.do(t, http.MethodGet, "/categories", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var values []string
		decodeBody(t, rec, &values)
		assert.Equal(t, []string{"billing", "bug"}, values)
	})

	t.Run("empty store yields empty array not null", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet, "/sentiments", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp healthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "healthy", resp.Database)
	})

	t.Run("database failure degrades but still answers 200", func(t *testing.T) {
		h := newAPIHarness(t)
		h.health.err = errors.New("connection refused")

		rec := h.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp healthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "degraded", resp.Status)
		assert.Contains(t, resp.Database, "connection refused")
	})
}

// multipartUpload builds a multipart body with a single file field.
func multipartUpload(t *testing.T, filename, contentType string, content []byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))

	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	part, err := writer.CreatePart(header)
	require.NoError(t, err)

	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return buf.Bytes(), writer.FormDataContentType()
}

func TestHandleKBUpload(t *testing.T) {
	document := []byte("# Billing FAQ\n\nRefunds are processed within 5 business days.\n")

	t.Run("ingests a new document", func(t *testing.T) {
		h := newAPIHarness(t)
		h.kb.ingestedID = 42

		body, contentType := multipartUpload(t, "billing.md", "text/markdown", document)

		rec := h.do(t, http.MethodPost, "/kb/upload?source=handbook", contentType, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp kbUploadResponse
		decodeBody(t, rec, &resp)

		digest := sha256.Sum256(document)
		assert.Equal(t, int64(42), resp.DocID)
		assert.Equal(t, "ingested", resp.Status)
		assert.Equal(t, hex.EncodeToString(digest[:]), resp.SHA256)
		assert.Positive(t, resp.Chunks)
		assert.Equal(t, len(document), resp.Bytes)

		require.NotNil(t, h.kb.gotDoc)
		assert.Equal(t, "Billing FAQ", h.kb.gotDoc.Title)
		assert.Equal(t, "billing.md", h.kb.gotDoc.Filename)
		assert.Equal(t, "handbook", h.kb.gotDoc.Source)

		// One embedding vector per chunk.
		assert.Len(t, h.kb.gotVectors, len(h.kb.gotChunks))
		assert.Equal(t, 1, h.embedder.calls)
	})

	t.Run("deduplicates identical content", func(t *testing.T) {
		h := newAPIHarness(t)
		h.kb.findErr = nil
		h.kb.doc = &kb.Document{ID: 7}

		body, contentType := multipartUpload(t, "billing.md", "text/markdown", document)

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp kbUploadResponse
		decodeBody(t, rec, &resp)

		assert.Equal(t, int64(7), resp.DocID)
		assert.Equal(t, "already_ingested", resp.Status)
		assert.Equal(t, 0, resp.Chunks)
		assert.Equal(t, 0, h.embedder.calls)
	})

	t.Run("falls back to filename when no heading", func(t *testing.T) {
		h := newAPIHarness(t)

		body, contentType := multipartUpload(t, "notes.txt", "text/plain", []byte("plain notes without heading"))

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		require.NotNil(t, h.kb.gotDoc)
		assert.Equal(t, "notes.txt", h.kb.gotDoc.Title)
	})

	t.Run("rejects unsupported extension", func(t *testing.T) {
		h := newAPIHarness(t)

		body, contentType := multipartUpload(t, "report.pdf", "application/pdf", []byte("%PDF-1.4"))

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty file", func(t *testing.T) {
		h := newAPIHarness(t)

		body, contentType := multipartUpload(t, "empty.txt", "text/plain", nil)

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects whitespace-only file", func(t *testing.T) {
		h := newAPIHarness(t)

		body, contentType := multipartUpload(t, "blank.txt", "text/plain", []byte("   \n\t  "))

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var problem ProblemDetail
		decodeBody(t, rec, &problem)
		assert.Contains(t, problem.Detail, "No extractable text")
	})

	t.Run("rejects missing file field", func(t *testing.T) {
		h := newAPIHarness(t)

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("other", "value"))
		require.NoError(t, writer.Close())

		rec := h.do(t, http.MethodPost, "/kb/upload", writer.FormDataContentType(), buf.Bytes())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		h := newAPIHarness(t)

		oversized := bytes.Repeat([]byte("a"), maxUploadBytes+1)
		body, contentType := multipartUpload(t, "huge.txt", "text/plain", oversized)

		rec := h.do(t, http.MethodPost, "/kb/upload", contentType, body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestHandleKBSearch(t *testing.T) {
	t.Run("returns matching chunks", func(t *testing.T) {
		h := newAPIHarness(t)
		h.kb.results = []kb.Chunk{
			{ID: 1, DocID: 10, ChunkIndex: 0, Title: "Billing FAQ", HeadingPath: "Refunds", Content: "Refunds take 5 days."},
			{ID: 2, DocID: 10, ChunkIndex: 1, Title: "Billing FAQ", HeadingPath: "Disputes", Content: "Open a dispute."},
		}

		rec := h.do(t, http.MethodGet, "/kb/search?q=refund&limit=10", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp kbSearchResponse
		decodeBody(t, rec, &resp)

		assert.Equal(t, "refund", resp.Query)
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, int64(1), resp.Results[0].ChunkID)
		assert.Equal(t, "Refunds", resp.Results[0].HeadingPath)

		assert.Equal(t, "refund", h.kb.gotTerm)
		assert.Equal(t, 10, h.kb.gotLimit)
	})

	t.Run("defaults the limit", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet, "/kb/search?q=refund", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultSearchLimit, h.kb.gotLimit)
	})

	t.Run("requires a query term", func(t *testing.T) {
		h := newAPIHarness(t)

		rec := h.do(t, http.MethodGet, "/kb/search?q=%20", "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("bounds the limit", func(t *testing.T) {
		for _, limit := range []string{"0", "51", "abc"} {
			t.Run(limit, func(t *testing.T) {
				h := newAPIHarness(t)

				rec := h.do(t, http.MethodGet, "/kb/search?q=refund&limit="+limit, "", nil)
				assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			})
		}
	})
}

func TestHandleNotFound(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/does/not/exist", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	decodeBody(t, rec, &problem)
	assert.Equal(t, "/does/not/exist", problem.Instance)
}
