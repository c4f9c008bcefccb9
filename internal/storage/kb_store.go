package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/support-intel/enricher/internal/kb"
)

// ErrDocumentNotFound is returned when a KB document lookup matches no row.
var ErrDocumentNotFound = errors.New("knowledge base document not found")

// kbChunkColumns is the shared column list for chunk reads; title comes from
// the owning document.
const kbChunkColumns = `c.id, c.doc_id, c.chunk_index, COALESCE(c.heading_path, ''), c.content,
	COALESCE(d.title, '')`

// KBStore reads and writes knowledge base documents and chunks. Retrieval
// reads (dense and keyword search) serve the enrichment pipeline; writes
// serve the ingestion surface.
type KBStore struct {
	conn *Connection
}

// NewKBStore creates a knowledge base store backed by the given connection.
func NewKBStore(conn *Connection) (*KBStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &KBStore{conn: conn}, nil
}

// SearchSimilar returns the limit nearest chunks to the query vector by
// Euclidean distance, skipping chunks that have not been embedded yet.
//
// The query vector must match the stored dimensionality; PostgreSQL rejects a
// mismatch and the error is propagated as-is. No coercion is attempted.
func (s *KBStore) SearchSimilar(ctx context.Context, queryVec []float32, limit int) ([]kb.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+kbChunkColumns+`
		FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.doc_id
		WHERE c.embedding IS NOT NULL
		ORDER BY c.embedding <-> $1
		LIMIT $2`,
		pgvector.NewVector(queryVec), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dense search: %w", ErrKBStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanChunks(rows)
}

// SearchKeyword returns up to limit chunks matching the query under English
// full-text parsing, ordered by ts_rank_cd descending with ascending chunk id
// as the tie-break. Blank queries return no candidates.
func (s *KBStore) SearchKeyword(ctx context.Context, query string, limit int) ([]kb.Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+kbChunkColumns+`
		FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.doc_id
		WHERE c.content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank_cd(c.content_tsv, plainto_tsquery('english', $1)) DESC, c.id ASC
		LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %w", ErrKBStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanChunks(rows)
}

// SearchContent performs a simple substring search over chunk content,
// serving the KB browse endpoint. Ordered by chunk id for stable results.
func (s *KBStore) SearchContent(ctx context.Context, term string, limit int) ([]kb.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+kbChunkColumns+`
		FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.doc_id
		WHERE c.content ILIKE $1
		ORDER BY c.id ASC
		LIMIT $2`,
		"%"+term+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: content search: %w", ErrKBStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanChunks(rows)
}

// FindDocumentBySHA returns the document with the given content digest, or
// ErrDocumentNotFound. Used to deduplicate uploads.
func (s *KBStore) FindDocumentBySHA(ctx context.Context, sha256 string) (*kb.Document, error) {
	var doc kb.Document

	var title, source, sourceURL sql.NullString

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, filename, title, source, source_url, sha256
		FROM kb_documents
		WHERE sha256 = $1`,
		sha256,
	).Scan(&doc.ID, &doc.Filename, &title, &source, &sourceURL, &doc.SHA256)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: find document: %w", ErrKBStoreFailed, err)
	}

	doc.Title = title.String
	doc.Source = source.String
	doc.SourceURL = sourceURL.String

	return &doc, nil
}

// IngestDocument inserts a document and its embedded chunks in one
// transaction and returns the new document id. Chunks and vectors are
// parallel slices; a length mismatch is a programming error and is rejected.
func (s *KBStore) IngestDocument(
	ctx context.Context,
	doc *kb.Document,
	contentType string,
	sizeBytes int,
	chunks []kb.Chunk,
	vectors [][]float32,
) (int64, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("%w: %d chunks with %d vectors", ErrKBStoreFailed, len(chunks), len(vectors))
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", ErrKBStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var docID int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO kb_documents (filename, title, content_type, sha256, size_bytes, source, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		doc.Filename, nullIfEmpty(doc.Title), nullIfEmpty(contentType), doc.SHA256,
		sizeBytes, nullIfEmpty(doc.Source), nullIfEmpty(doc.SourceURL),
	).Scan(&docID)
	if err != nil {
		return 0, fmt.Errorf("%w: insert document: %w", ErrKBStoreFailed, err)
	}

	for i, chunk := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kb_chunks (doc_id, chunk_index, heading_path, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			docID, i, nullIfEmpty(chunk.HeadingPath), chunk.Content, pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert chunk %d: %w", ErrKBStoreFailed, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrKBStoreFailed, err)
	}

	return docID, nil
}

func scanChunks(rows *sql.Rows) ([]kb.Chunk, error) {
	var chunks []kb.Chunk

	for rows.Next() {
		var chunk kb.Chunk
		if err := rows.Scan(
			&chunk.ID, &chunk.DocID, &chunk.ChunkIndex,
			&chunk.HeadingPath, &chunk.Content, &chunk.Title,
		); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %w", ErrKBStoreFailed, err)
		}

		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %w", ErrKBStoreFailed, err)
	}

	return chunks, nil
}
