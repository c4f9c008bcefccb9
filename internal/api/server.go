package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/support-intel/enricher/internal/api/middleware"
	"github.com/support-intel/enricher/internal/kb"
	"github.com/support-intel/enricher/internal/storage"
)

type (
	// TicketDirectory is the slice of the ticket store the API reads and
	// writes: pending ticket creation plus the query surface.
	TicketDirectory interface {
		CreatePending(ctx context.Context, ticket *storage.PendingTicket) error
		GetTicket(ctx context.Context, ticketID string) (*storage.EnrichedTicket, error)
		ListTickets(ctx context.Context, filter storage.TicketFilter) (*storage.TicketPage, error)
		Analytics(ctx context.Context) (*storage.AnalyticsSummary, error)
		DistinctCategories(ctx context.Context) ([]string, error)
		DistinctSentiments(ctx context.Context) ([]string, error)
	}

	// KBLibrary is the slice of the knowledge base store serving uploads
	// and browse search.
	KBLibrary interface {
		FindDocumentBySHA(ctx context.Context, sha256 string) (*kb.Document, error)
		IngestDocument(
			ctx context.Context,
			doc *kb.Document,
			contentType string,
			sizeBytes int,
			chunks []kb.Chunk,
			vectors [][]float32,
		) (int64, error)
		SearchContent(ctx context.Context, term string, limit int) ([]kb.Chunk, error)
	}

	// Publisher publishes ticket events to the input topic.
	Publisher interface {
		Publish(ctx context.Context, key, value []byte) error
	}

	// Embedder produces embedding vectors for uploaded KB chunks.
	Embedder interface {
		Embed(ctx context.Context, texts []string) ([][]float32, error)
	}

	// HealthChecker verifies the storage backend is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies carries the server's runtime collaborators, separated
	// from ServerConfig so that configuration (what) stays apart from
	// dependencies (how).
	Dependencies struct {
		Tickets     TicketDirectory
		KB          KBLibrary
		Publisher   Publisher
		Embedder    Embedder
		Health      HealthChecker
		RateLimiter middleware.RateLimiter
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		deps       *Dependencies
		startTime  time.Time
	}
)

// NewServer creates a new HTTP server instance with structured logging and
// the middleware stack. A nil RateLimiter disables rate limiting.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. RequestID - tag every request for log correlation
	//   2. Recovery - catch panics in all downstream handlers
	//   3. RateLimit - block floods before expensive operations
	//   4. RequestLogger - log only requests that passed the limiter
	//   5. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Support Intel API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Stop the rate limiter's background cleanup goroutine
	if s.deps.RateLimiter != nil {
		if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
