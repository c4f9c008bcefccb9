// Package main runs the enrichment consumer: it reads ticket events from the
// input topic, enriches each ticket with knowledge base context and a model
// annotation, commits the result transactionally, and publishes the enriched
// event. Poison messages go to the DLQ topic instead of blocking a partition.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/support-intel/enricher/internal/config"
	"github.com/support-intel/enricher/internal/enricher"
	"github.com/support-intel/enricher/internal/enrichment"
	"github.com/support-intel/enricher/internal/inference"
	"github.com/support-intel/enricher/internal/kafka"
	"github.com/support-intel/enricher/internal/llm"
	"github.com/support-intel/enricher/internal/retrieval"
	"github.com/support-intel/enricher/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "enricher"
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
		logger.Error("Enricher terminated", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	retriever, err := retrieval.NewRetriever(
		retrieval.LoadConfig(),
		kbStore,
		inference.NewRegistry(inference.LoadConfig()),
	)
	if err != nil {
		return fmt.Errorf("retriever init failed: %w", err)
	}

	annotator, err := llm.NewAnthropicClient(llm.LoadConfig())
	if err != nil {
		return fmt.Errorf("llm client init failed: %w", err)
	}

	// Missing alias file degrades to an empty alias table, never an error.
	aliases, err := enrichment.LoadAliasConfigFromEnv()
	if err != nil {
		return fmt.Errorf("alias config load failed: %w", err)
	}

	kafkaCfg := kafka.LoadConfig()

	consumer, err := kafka.NewConsumer(kafkaCfg)
	if err != nil {
		return fmt.Errorf("consumer init failed: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	producer, err := kafka.NewProducer(kafkaCfg, kafkaCfg.TopicOut)
	if err != nil {
		return fmt.Errorf("producer init failed: %w", err)
	}
	defer func() { _ = producer.Close() }()

	dlq, err := kafka.NewDeadLetterProducer(kafkaCfg)
	if err != nil {
		return fmt.Errorf("dlq producer init failed: %w", err)
	}
	defer func() { _ = dlq.Close() }()

	pipeline, err := enricher.NewPipeline(enricher.Deps{
		Consumer:   consumer,
		Publisher:  producer,
		DLQ:        dlq,
		Store:      tickets,
		Retriever:  retriever,
		Annotator:  annotator,
		Normalizer: enrichment.NewNormalizer(aliases),
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	logger.Info("Starting enrichment consumer",
		slog.String("version", version),
		slog.String("bootstrap", kafkaCfg.Bootstrap),
		slog.String("topic_in", kafkaCfg.TopicIn),
		slog.String("topic_out", kafkaCfg.TopicOut),
		slog.String("topic_dlq", kafkaCfg.TopicDLQ),
		slog.String("group_id", kafkaCfg.GroupID),
	)

	return pipeline.Run(ctx)
}
