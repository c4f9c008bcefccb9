package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/support-intel/enricher/internal/kb"
	"github.com/support-intel/enricher/internal/storage"
)

const (
	maxUploadBytes    = 10 * 1024 * 1024 // 10 MB
	maxFilenameLength = 200

	kbChunkSize    = 1000
	kbChunkOverlap = 150
)

// allowedUploadTypes maps accepted extensions to the content types clients
// may declare for them. application/octet-stream is always tolerated because
// many clients send it for text files.
var allowedUploadTypes = map[string][]string{
	".txt": {"text/plain"},
	".md":  {"text/markdown", "text/plain"},
}

// kbUploadResponse is the POST /kb/upload body.
//
//nolint:tagliatelle // response contract uses snake_case
type kbUploadResponse struct {
	DocID  int64  `json:"doc_id"`
	Status string `json:"status"`
	SHA256 string `json:"sha256"`
	Chunks int    `json:"chunks"`
	Bytes  int    `json:"bytes,omitempty"`
}

// handleKBUpload ingests a knowledge base document: the plain-text payload is
// chunked, embedded, and stored together with the document record. Re-uploads
// of identical content are detected by digest and skipped.
func (s *Server) handleKBUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+4096)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Missing file upload: "+err.Error()))

		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Missing filename"))

		return
	}

	safeName := safeFilename(header.Filename)

	ext := strings.ToLower(filepath.Ext(safeName))

	allowedTypes, ok := allowedUploadTypes[ext]
	if !ok {
		WriteErrorResponse(w, r, s.logger, BadRequest("Unsupported file type: "+ext))

		return
	}

	contentType := header.Header.Get("Content-Type")
	if !contentTypeAllowed(contentType, allowedTypes) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Unsupported content type: "+contentType))

		return
	}

	fileBytes, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Failed to read upload: "+err.Error()))

		return
	}

	if len(fileBytes) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Empty file"))

		return
	}

	if len(fileBytes) > maxUploadBytes {
		WriteErrorResponse(w, r, s.logger,
			PayloadTooLarge(fmt.Sprintf("File too large (max %d bytes)", maxUploadBytes)))

		return
	}

	digest := sha256.Sum256(fileBytes)
	sha := hex.EncodeToString(digest[:])

	text := strings.TrimSpace(strings.ToValidUTF8(string(fileBytes), "�"))
	if text == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("No extractable text found"))

		return
	}

	chunks, err := kb.ChunkText(text, kbChunkSize, kbChunkOverlap)
	if err != nil || len(chunks) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("No valid chunks produced"))

		return
	}

	// Identical content short-circuits without re-embedding.
	existing, err := s.deps.KB.FindDocumentBySHA(r.Context(), sha)
	if err == nil {
		s.writeJSON(w, r, http.StatusCreated, kbUploadResponse{
			DocID:  existing.ID,
			Status: "already_ingested",
			SHA256: sha,
			Chunks: 0,
		})

		return
	}

	if !errors.Is(err, storage.ErrDocumentNotFound) {
		s.logger.Error("Failed to check document digest", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to ingest document"))

		return
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := s.deps.Embedder.Embed(r.Context(), texts)
	if err != nil {
		s.logger.Error("Failed to embed chunks",
			slog.String("filename", safeName),
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to embed document chunks"))

		return
	}

	docID, err := s.deps.KB.IngestDocument(r.Context(), &kb.Document{
		Filename:  safeName,
		Title:     documentTitle(text, header.Filename),
		Source:    r.URL.Query().Get("source"),
		SourceURL: r.URL.Query().Get("source_url"),
		SHA256:    sha,
	}, contentType, len(fileBytes), chunks, vectors)
	if err != nil {
		s.logger.Error("Failed to store document",
			slog.String("filename", safeName),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to ingest document"))

		return
	}

	s.logger.Info("KB document ingested",
		slog.Int64("doc_id", docID),
		slog.String("filename", safeName),
		slog.Int("chunks", len(chunks)),
	)

	s.writeJSON(w, r, http.StatusCreated, kbUploadResponse{
		DocID:  docID,
		Status: "ingested",
		SHA256: sha,
		Chunks: len(chunks),
		Bytes:  len(fileBytes),
	})
}

// safeFilename strips any path component and bounds the length.
func safeFilename(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "upload"
	}

	if len(base) > maxFilenameLength {
		return base[:maxFilenameLength]
	}

	return base
}

// contentTypeAllowed accepts the declared type when it matches the extension,
// is empty, or is the generic octet-stream fallback.
func contentTypeAllowed(contentType string, allowed []string) bool {
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}

	// Strip any charset parameter.
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])

	for _, candidate := range allowed {
		if mediaType == candidate {
			return true
		}
	}

	return false
}

// documentTitle picks the first top-level markdown heading, falling back to
// the uploaded filename.
func documentTitle(text, filename string) string {
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "# ") {
			if title := strings.TrimSpace(stripped[2:]); title != "" {
				return title
			}
		}
	}

	return filename
}
