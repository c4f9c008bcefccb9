package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DeadLetter is the record published to the DLQ topic for a message the
// pipeline could not process. Payload carries the original bytes decoded as
// UTF-8 with invalid sequences replaced, or null when the message was empty.
//
//nolint:tagliatelle // DLQ records use snake_case keys on the wire
type DeadLetter struct {
	FailedTopic string  `json:"failed_topic"`
	Partition   int     `json:"partition"`
	Offset      int64   `json:"offset"`
	Error       string  `json:"error"`
	Payload     *string `json:"payload"`
	TS          string  `json:"ts"`
}

// NewDeadLetter packages a failed message and its processing error into a
// dead-letter record stamped with the current time.
func NewDeadLetter(msg Message, cause error) DeadLetter {
	record := DeadLetter{
		FailedTopic: msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Error:       cause.Error(),
		TS:          time.Now().UTC().Format(time.RFC3339),
	}

	if len(msg.Value) > 0 {
		decoded := strings.ToValidUTF8(string(msg.Value), string(utf8.RuneError))
		record.Payload = &decoded
	}

	return record
}

// DeadLetterProducer publishes dead-letter records to the DLQ topic.
type DeadLetterProducer struct {
	producer *Producer
}

// NewDeadLetterProducer creates a producer bound to the DLQ topic.
func NewDeadLetterProducer(cfg *Config) (*DeadLetterProducer, error) {
	producer, err := NewProducer(cfg, cfg.TopicDLQ)
	if err != nil {
		return nil, err
	}

	return &DeadLetterProducer{producer: producer}, nil
}

// Publish encodes the dead-letter record for msg and writes it to the DLQ
// topic, waiting for broker acknowledgment within the flush timeout. A
// failure here means the caller must not advance the consumer offset.
func (d *DeadLetterProducer) Publish(ctx context.Context, msg Message, cause error) error {
	payload, err := json.Marshal(NewDeadLetter(msg, cause))
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter record: %w", err)
	}

	return d.producer.Publish(ctx, nil, payload)
}

// Close releases the underlying producer.
func (d *DeadLetterProducer) Close() error {
	return d.producer.Close()
}
