package kafka

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is the bus message type consumed from and produced to topics.
type Message = kafkago.Message

// Consumer reads TicketEvent messages from the input topic as part of a
// consumer group. Offsets are committed only through Commit, synchronously,
// after the caller has finished handling the message. New group members start
// from the earliest retained offset.
type Consumer struct {
	reader *kafkago.Reader
}

// NewConsumer creates a consumer subscribed to the input topic.
func NewConsumer(cfg *Config) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka configuration invalid: %w", err)
	}

	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers(),
			GroupID:     cfg.GroupID,
			Topic:       cfg.TopicIn,
			StartOffset: kafkago.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
	}, nil
}

// Fetch blocks until the next message is available or the context is
// canceled. Fetching does not advance the committed offset.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}

	return msg, nil
}

// Commit synchronously commits the offset of msg. Within a partition, commits
// are monotonic because messages are fetched and handled strictly in order.
func (c *Consumer) Commit(ctx context.Context, msg Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d on %s[%d]: %w",
			msg.Offset, msg.Topic, msg.Partition, err)
	}

	return nil
}

// Close releases the consumer's group membership and connections.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
