package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/support-intel/enricher/internal/config"
	"github.com/support-intel/enricher/internal/enrichment"
	"github.com/support-intel/enricher/internal/event"
)

// Sentinel errors for LLM response handling. Both are poison conditions for
// pipeline purposes: the message routes to the DLQ, not to a retry.
var (
	// ErrNoTextContent is returned when the model response carries no text blocks.
	ErrNoTextContent = errors.New("model response contains no text content")

	// ErrUnparseableResponse is returned when the response text is not valid
	// JSON after fence stripping.
	ErrUnparseableResponse = errors.New("model response is not valid JSON")
)

type (
	// Annotator produces a raw enrichment annotation for a ticket, optionally
	// grounded in a KB context string.
	Annotator interface {
		Annotate(ctx context.Context, ticket *event.TicketEvent, kbContext string) (*enrichment.RawAnnotation, error)
	}

	// AnthropicClient implements Annotator against the Anthropic Messages API.
	AnthropicClient struct {
		client anthropic.Client
		cfg    *Config
		logger *slog.Logger
	}

	// ticketPrompt is the user-message payload: only the fields the model
	// needs, never the full event.
	//nolint:tagliatelle // keys match the prompt contract
	ticketPrompt struct {
		TicketID string `json:"ticket_id"`
		Subject  string `json:"subject"`
		Body     string `json:"body"`
		Channel  string `json:"channel"`
		Priority string `json:"priority"`
	}
)

// NewAnthropicClient creates an Annotator backed by the Anthropic API.
func NewAnthropicClient(cfg *Config) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llm configuration invalid: %w", err)
	}

	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(cfg.RequestTimeout),
		),
		cfg: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// systemDirective is the fixed instruction set: JSON-only output, the exact
// key set, enum membership, risk range, reply format and word cap, and the
// instruction to lean on the KB context rather than guess.
func systemDirective() string {
	return "You are a support operations assistant. " +
		"Use ONLY the KB Context when proposing troubleshooting steps or policy statements. " +
		"If the KB Context does not cover the issue, ask 1-2 clarifying questions and avoid guessing. " +
		"Allowed categories: " + strings.Join(enrichment.Categories(), ", ") + ". " +
		"Allowed sentiments: " + strings.Join(enrichment.Sentiments(), ", ") + ". " +
		"Return ONLY valid JSON with keys: summary, category, sentiment, risk, suggested_reply. " +
		"risk must be a number 0 to 1. " +
		"Suggested reply format: 1 short acknowledgment, then 2-4 bullet steps, then next-step ask. " +
		"Keep suggested_reply under 140 words."
}

// Annotate sends the ticket to the model and parses the returned annotation.
func (c *AnthropicClient) Annotate(
	ctx context.Context,
	ticket *event.TicketEvent,
	kbContext string,
) (*enrichment.RawAnnotation, error) {
	system := systemDirective()
	if kbContext != "" {
		system = system + "\n\nKB Context:\n" + kbContext
	}

	userJSON, err := json.Marshal(ticketPrompt{
		TicketID: ticket.TicketID,
		Subject:  ticket.Subject,
		Body:     ticket.Body,
		Channel:  ticket.Channel,
		Priority: ticket.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket prompt: %w", err)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(userJSON))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	var text strings.Builder

	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(textBlock.Text)
		}
	}

	if text.Len() == 0 {
		return nil, ErrNoTextContent
	}

	annotation, err := parseAnnotation(text.String())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("annotation received",
		slog.String("ticket_id", ticket.TicketID),
		slog.String("model", c.cfg.Model),
	)

	return annotation, nil
}

// parseAnnotation strips markdown fences and decodes the annotation JSON.
func parseAnnotation(text string) (*enrichment.RawAnnotation, error) {
	var annotation enrichment.RawAnnotation

	if err := json.Unmarshal([]byte(stripFences(text)), &annotation); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseableResponse, err)
	}

	return &annotation, nil
}

// Compile-time interface assertion.
var _ Annotator = (*AnthropicClient)(nil)
