// Package main runs the HTTP API for the support intelligence service:
// ticket ingestion into the event pipeline, enriched ticket queries,
// analytics, and knowledge base document upload and search.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/support-intel/enricher/internal/api"
	"github.com/support-intel/enricher/internal/api/middleware"
	"github.com/support-intel/enricher/internal/config"
	"github.com/support-intel/enricher/internal/inference"
	"github.com/support-intel/enricher/internal/kafka"
	"github.com/support-intel/enricher/internal/retrieval"
	"github.com/support-intel/enricher/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "api"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	if err := run(logger); err != nil {
		logger.Error("API server terminated", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	conn, err := storage.NewConnection(ctx, storage.LoadConfig())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tickets, err := storage.NewTicketStore(conn)
	if err != nil {
		return fmt.Errorf("ticket store init failed: %w", err)
	}

	kbStore, err := storage.NewKBStore(conn)
	if err != nil {
		return fmt.Errorf("kb store init failed: %w", err)
	}

	// Uploads are embedded with the same model the enrichment retriever
	// queries with, otherwise stored vectors and query vectors diverge.
	retrievalCfg := retrieval.LoadConfig()
	if err := retrievalCfg.Validate(); err != nil {
		return fmt.Errorf("retrieval configuration invalid: %w", err)
	}

	registry := inference.NewRegistry(inference.LoadConfig())
	embedder := registry.Embedder(retrievalCfg.EmbeddingModel)

	kafkaCfg := kafka.LoadConfig()

	producer, err := kafka.NewProducer(kafkaCfg, kafkaCfg.TopicIn)
	if err != nil {
		return fmt.Errorf("producer init failed: %w", err)
	}
	defer func() { _ = producer.Close() }()

	logger.Info("Starting API server",
		slog.String("version", version),
		slog.String("topic_in", kafkaCfg.TopicIn),
	)

	server := api.NewServer(api.LoadServerConfig(), &api.Dependencies{
		Tickets:     tickets,
		KB:          kbStore,
		Publisher:   producer,
		Embedder:    embedder,
		Health:      conn,
		RateLimiter: middleware.NewInMemoryRateLimiter(middleware.LoadConfig()),
	})

	return server.Start()
}
