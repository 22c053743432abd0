// Package consumer provides Kafka consumer functionality for the email.requests topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
)

// reader is the subset of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka reader and provides a simple interface for consuming email request events.
type Consumer struct {
	reader reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// Offsets are committed explicitly with CommitMessage (at-least-once delivery).
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	r := kafka.NewReader(NewReaderConfig(brokerList, topic, groupID))

	slog.Info("Kafka consumer configured",
		"min_bytes", 1,
		"max_bytes", 10e6,
		"max_wait", MaxPollWait,
	)

	return &Consumer{
		reader: r,
		topic:  topic,
	}, nil
}

// ReadMessage fetches the next message and decodes it as an EmailRequested.
// When decoding or validation fails the raw message is still returned so the
// caller can commit past it.
func (c *Consumer) ReadMessage(ctx context.Context) (*events.EmailRequested, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var req events.EmailRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal email request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, &msg, fmt.Errorf("invalid email request: %w", err)
	}

	return &req, &msg, nil
}

// CommitMessage commits the offset for the given message.
// This should be called after the message has been handled.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
