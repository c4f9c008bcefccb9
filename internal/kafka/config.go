// Package kafka wraps segmentio/kafka-go with the pipeline's bus conventions:
// a consumer with manual synchronous offset commits, a producer whose writes
// are bounded by a flush timeout, and a dead-letter producer that packages
// failed messages with their bus coordinates.
package kafka

import (
	"fmt"
	"time"

	"github.com/support-intel/enricher/internal/config"
)

// Default bus endpoints and topics.
const (
	defaultBootstrap = "localhost:9092"
	defaultTopicIn   = "support.tickets.v1"
	defaultTopicOut  = "support.tickets.enriched.v1"
	defaultTopicDLQ  = "support.tickets.dlq.v1"
	defaultGroupID   = "support-enricher"

	// defaultFlushTimeout bounds a single produce, including delivery
	// acknowledgment. The consumer never commits an offset past a message
	// whose produce has not been acknowledged.
	defaultFlushTimeout = 5 * time.Second
)

// Config holds Kafka bus configuration shared by the consumer and producers.
type Config struct {
	// Bootstrap is a comma-separated list of broker addresses
	Bootstrap string

	// TopicIn carries inbound TicketEvent messages
	TopicIn string

	// TopicOut carries outbound EnrichedEvent messages
	TopicOut string

	// TopicDLQ carries dead-letter records for poison messages
	TopicDLQ string

	// GroupID is the consumer group identifier
	GroupID string

	// FlushTimeout bounds produce and flush on the output and DLQ topics
	FlushTimeout time.Duration
}

// LoadConfig loads Kafka configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Bootstrap:    config.GetEnvStr("BOOTSTRAP", defaultBootstrap),
		TopicIn:      config.GetEnvStr("ENRICHER_TOPIC_IN", defaultTopicIn),
		TopicOut:     config.GetEnvStr("TOPIC_OUT", defaultTopicOut),
		TopicDLQ:     config.GetEnvStr("TOPIC_DLQ", defaultTopicDLQ),
		GroupID:      config.GetEnvStr("GROUP_ID", defaultGroupID),
		FlushTimeout: config.GetEnvDuration("KAFKA_FLUSH_TIMEOUT", defaultFlushTimeout),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Bootstrap == "" {
		return fmt.Errorf("BOOTSTRAP cannot be empty")
	}

	for name, topic := range map[string]string{
		"ENRICHER_TOPIC_IN": c.TopicIn,
		"TOPIC_OUT":         c.TopicOut,
		"TOPIC_DLQ":         c.TopicDLQ,
	} {
		if topic == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}

	if c.GroupID == "" {
		return fmt.Errorf("GROUP_ID cannot be empty")
	}

	if c.FlushTimeout <= 0 {
		return fmt.Errorf("KAFKA_FLUSH_TIMEOUT must be positive, got %s", c.FlushTimeout)
	}

	return nil
}

// Brokers returns the bootstrap string split into individual addresses.
func (c *Config) Brokers() []string {
	return config.ParseCommaSeparatedList(c.Bootstrap)
}
