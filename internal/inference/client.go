package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"

	// maxErrorBodyBytes bounds how much of an error response body is read
	// for diagnostics.
	maxErrorBodyBytes = 4096
)

// ErrUnexpectedStatus is returned when the inference service responds with a
// non-200 status.
var ErrUnexpectedStatus = errors.New("inference service returned unexpected status")

type (
	// Embedder turns texts into fixed-dimensionality vectors.
	Embedder interface {
		// Embed returns one vector per input text, in input order.
		Embed(ctx context.Context, texts []string) ([][]float32, error)

		// Model returns the model name this handle is bound to.
		Model() string
	}

	// Reranker scores (query, document) pairs with a cross-encoder.
	Reranker interface {
		// Rerank returns one relevance score per document, in input order.
		Rerank(ctx context.Context, query string, documents []string) ([]float64, error)

		// Model returns the model name this handle is bound to.
		Model() string
	}

	// HTTPEmbedder calls POST {base}/embed on the inference service.
	HTTPEmbedder struct {
		baseURL    string
		model      string
		httpClient *http.Client
	}

	// HTTPReranker calls POST {base}/rerank on the inference service.
	HTTPReranker struct {
		baseURL    string
		model      string
		httpClient *http.Client
	}
)

type (
	embedRequest struct {
		Model  string   `json:"model"`
		Inputs []string `json:"inputs"`
	}

	embedResponse struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	rerankRequest struct {
		Model     string   `json:"model"`
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	}

	rerankResponse struct {
		Scores []float64 `json:"scores"`
	}
)

// NewHTTPEmbedder creates an embedder handle bound to the given model.
func NewHTTPEmbedder(cfg *Config, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// NewHTTPReranker creates a reranker handle bound to the given model.
func NewHTTPReranker(cfg *Config, model string) *HTTPReranker {
	return &HTTPReranker{
		baseURL:    cfg.BaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Model returns the bound embedding model name.
func (e *HTTPEmbedder) Model() string { return e.model }

// Embed requests one vector per text.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	respBody, err := doPost(ctx, e.httpClient, e.baseURL+"/embed", body)
	if err != nil {
		return nil, fmt.Errorf("embed call failed: %w", err)
	}
	defer func() { _ = respBody.Close() }()

	var resp embedResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response has %d vectors for %d inputs",
			len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

// Model returns the bound rerank model name.
func (r *HTTPReranker) Model() string { return r.model }

// Rerank requests one relevance score per document.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	respBody, err := doPost(ctx, r.httpClient, r.baseURL+"/rerank", body)
	if err != nil {
		return nil, fmt.Errorf("rerank call failed: %w", err)
	}
	defer func() { _ = respBody.Close() }()

	var resp rerankResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	if len(resp.Scores) != len(documents) {
		return nil, fmt.Errorf("rerank response has %d scores for %d documents",
			len(resp.Scores), len(documents))
	}

	return resp.Scores, nil
}

// doPost sends a JSON POST and returns the response body on HTTP 200.
func doPost(ctx context.Context, client *http.Client, url string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set(headerContentType, mimeJSON)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(detail))
	}

	return resp.Body, nil
}

// Compile-time interface assertions.
var (
	_ Embedder = (*HTTPEmbedder)(nil)
	_ Reranker = (*HTTPReranker)(nil)
)
