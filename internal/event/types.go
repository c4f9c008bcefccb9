// Package event defines the wire contracts for the support ticket pipeline:
// the TicketEvent consumed from the input topic and the EnrichedEvent
// published to the output topic, together with their schema validation.
//
// Validation strategy is semantic (unmarshal + field rules) rather than formal
// JSON-schema evaluation: the contracts are small and fixed, and semantic
// validation lets us report the offending path and rule precisely.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Schema versions carried in the schema_version field of both contracts.
const (
	TicketEventSchemaVersion   = 1
	EnrichedEventSchemaVersion = 1
)

// minEventIDLength is the minimum length of an event_id ("evt-" plus entropy).
const minEventIDLength = 8

// ErrEmptyPayload is returned when a message carries no payload at all.
var ErrEmptyPayload = errors.New("empty payload")

type (
	// TicketEvent is a single raw ticket occurrence from the input topic.
	//
	// EventID is globally unique per occurrence; TicketID is the stable
	// business key (one ticket may accrue many events). Unknown fields are
	// preserved in Extra for forward compatibility but are never propagated
	// into the outbound EnrichedEvent.
	TicketEvent struct {
		SchemaVersion int
		EventID       string
		TicketID      string
		TS            string
		Subject       string
		Body          string
		Channel       string
		Priority      string
		CustomerID    string

		// Extra holds fields not named by the schema (additionalProperties=true).
		Extra map[string]json.RawMessage
	}

	// Citation references a KB chunk that grounded the enrichment.
	Citation struct {
		ChunkID     int64  `json:"chunk_id"`     //nolint:tagliatelle // wire contract uses snake_case
		Title       string `json:"title"`
		HeadingPath string `json:"heading_path"` //nolint:tagliatelle // wire contract uses snake_case
	}

	// EnrichedEvent is the enrichment outcome published to the output topic.
	//nolint:tagliatelle // wire contract uses snake_case
	EnrichedEvent struct {
		SchemaVersion  int        `json:"schema_version"`
		EventID        string     `json:"event_id"`
		TicketID       string     `json:"ticket_id"`
		TS             string     `json:"ts"`
		Summary        string     `json:"summary"`
		Category       string     `json:"category"`
		Sentiment      string     `json:"sentiment"`
		Risk           float64    `json:"risk"`
		SuggestedReply string     `json:"suggested_reply"`
		Citations      []Citation `json:"citations,omitempty"`
	}

	// DecodeError reports a payload that is not valid JSON.
	DecodeError struct {
		Err error
	}

	// SchemaError reports a payload that is valid JSON but violates the
	// event schema. Path identifies the offending field, Rule the violated
	// constraint (e.g. "required", "minLength", "type").
	SchemaError struct {
		Path string
		Rule string
		Msg  string
	}
)

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("json decode failed: %v", e.Err)
}

// Unwrap exposes the underlying JSON error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation at %q (%s): %s", e.Path, e.Rule, e.Msg)
}
