package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ticketEventFields are the schema-declared fields of a TicketEvent. Anything
// else in the payload is preserved in Extra.
var ticketEventFields = map[string]bool{
	"schema_version": true,
	"event_id":       true,
	"ticket_id":      true,
	"ts":             true,
	"subject":        true,
	"body":           true,
	"channel":        true,
	"priority":       true,
	"customer_id":    true,
}

// DecodeTicket decodes and validates a raw input payload into a TicketEvent.
//
// Error classification drives the consumer's terminal arcs: a *DecodeError
// means the payload is not JSON at all, a *SchemaError means the JSON violates
// the contract. Both are poison conditions, not transient failures.
func DecodeTicket(payload []byte) (*TicketEvent, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyPayload
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	evt := &TicketEvent{}

	version, err := requireInt(raw, "schema_version")
	if err != nil {
		return nil, err
	}

	if version != TicketEventSchemaVersion {
		return nil, &SchemaError{
			Path: "schema_version",
			Rule: "const",
			Msg:  fmt.Sprintf("expected %d, got %d", TicketEventSchemaVersion, version),
		}
	}

	evt.SchemaVersion = version

	if evt.EventID, err = requireString(raw, "event_id", minEventIDLength); err != nil {
		return nil, err
	}

	if evt.TicketID, err = requireString(raw, "ticket_id", 1); err != nil {
		return nil, err
	}

	if evt.TS, err = requireString(raw, "ts", 0); err != nil {
		return nil, err
	}

	if evt.Subject, err = requireString(raw, "subject", 0); err != nil {
		return nil, err
	}

	if evt.Body, err = requireString(raw, "body", 0); err != nil {
		return nil, err
	}

	if evt.Channel, err = requireString(raw, "channel", 0); err != nil {
		return nil, err
	}

	if evt.Priority, err = requireString(raw, "priority", 0); err != nil {
		return nil, err
	}

	if customerID, ok := raw["customer_id"]; ok {
		if err := json.Unmarshal(customerID, &evt.CustomerID); err != nil {
			return nil, &SchemaError{Path: "customer_id", Rule: "type", Msg: "must be a string"}
		}
	}

	// Preserve unknown fields for forward compatibility. They are never
	// propagated into the outbound EnrichedEvent.
	for key, value := range raw {
		if ticketEventFields[key] {
			continue
		}

		if evt.Extra == nil {
			evt.Extra = make(map[string]json.RawMessage)
		}

		evt.Extra[key] = value
	}

	return evt, nil
}

// EncodeTicket serializes a TicketEvent for the input topic. customer_id is
// emitted only when present; Extra fields are carried through. The payload is
// validated with the same rules DecodeTicket applies, so a published event is
// guaranteed to decode on the consumer side.
func EncodeTicket(evt *TicketEvent) ([]byte, error) {
	raw := map[string]any{
		"schema_version": evt.SchemaVersion,
		"event_id":       evt.EventID,
		"ticket_id":      evt.TicketID,
		"ts":             evt.TS,
		"subject":        evt.Subject,
		"body":           evt.Body,
		"channel":        evt.Channel,
		"priority":       evt.Priority,
	}

	if evt.CustomerID != "" {
		raw["customer_id"] = evt.CustomerID
	}

	for key, value := range evt.Extra {
		if !ticketEventFields[key] {
			raw[key] = value
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket event: %w", err)
	}

	if _, err := DecodeTicket(data); err != nil {
		return nil, err
	}

	return data, nil
}

// EncodeEnriched validates and serializes an EnrichedEvent for the output topic.
func EncodeEnriched(evt *EnrichedEvent) ([]byte, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enriched event: %w", err)
	}

	return data, nil
}

// DecodeEnriched decodes an EnrichedEvent payload, e.g. for downstream
// consumers and round-trip tests.
func DecodeEnriched(payload []byte) (*EnrichedEvent, error) {
	var evt EnrichedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &DecodeError{Err: err}
	}

	if err := evt.Validate(); err != nil {
		return nil, err
	}

	return &evt, nil
}

// Validate checks the outbound contract. Enum closure for category and
// sentiment is enforced by the normalizer; here we guard the structural
// invariants that must hold for every published event.
func (e *EnrichedEvent) Validate() error {
	if e.SchemaVersion != EnrichedEventSchemaVersion {
		return &SchemaError{
			Path: "schema_version",
			Rule: "const",
			Msg:  fmt.Sprintf("expected %d, got %d", EnrichedEventSchemaVersion, e.SchemaVersion),
		}
	}

	if len(e.EventID) < minEventIDLength {
		return &SchemaError{
			Path: "event_id",
			Rule: "minLength",
			Msg:  fmt.Sprintf("must be at least %d characters", minEventIDLength),
		}
	}

	if e.TicketID == "" {
		return &SchemaError{Path: "ticket_id", Rule: "minLength", Msg: "must not be empty"}
	}

	if e.Risk < 0 || e.Risk > 1 {
		return &SchemaError{
			Path: "risk",
			Rule: "range",
			Msg:  fmt.Sprintf("must be within [0,1], got %g", e.Risk),
		}
	}

	return nil
}

// requireString extracts a required string field, enforcing a minimum length.
func requireString(raw map[string]json.RawMessage, path string, minLength int) (string, error) {
	value, ok := raw[path]
	if !ok {
		return "", &SchemaError{Path: path, Rule: "required", Msg: "field is missing"}
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", &SchemaError{Path: path, Rule: "type", Msg: "must be a string"}
	}

	if len(s) < minLength {
		return "", &SchemaError{
			Path: path,
			Rule: "minLength",
			Msg:  fmt.Sprintf("must be at least %d characters", minLength),
		}
	}

	return s, nil
}

// requireInt extracts a required integer field.
func requireInt(raw map[string]json.RawMessage, path string) (int, error) {
	value, ok := raw[path]
	if !ok {
		return 0, &SchemaError{Path: path, Rule: "required", Msg: "field is missing"}
	}

	var n int
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, &SchemaError{Path: path, Rule: "type", Msg: "must be an integer"}
	}

	return n, nil
}
