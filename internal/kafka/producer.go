package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Producer publishes messages to a single topic. WriteMessages in kafka-go is
// synchronous, so a successful Publish means the broker acknowledged the
// write; the flush timeout bounds how long that acknowledgment may take.
type Producer struct {
	writer       *kafkago.Writer
	flushTimeout time.Duration
}

// NewProducer creates a producer bound to the given topic.
func NewProducer(cfg *Config, topic string) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka configuration invalid: %w", err)
	}

	if topic == "" {
		return nil, fmt.Errorf("producer topic cannot be empty")
	}

	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers()...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafkago.RequireAll,
		},
		flushTimeout: cfg.FlushTimeout,
	}, nil
}

// Publish writes a single message and waits for broker acknowledgment,
// bounded by the flush timeout. Key selects the partition; an empty key
// leaves partitioning to the balancer.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()

	msg := kafkago.Message{Value: value}
	if len(key) > 0 {
		msg.Key = key
	}

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}

	return nil
}

// Topic returns the topic this producer is bound to.
func (p *Producer) Topic() string {
	return p.writer.Topic
}

// Close flushes pending batches and releases connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}
