package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
)

// writer is the subset of *kafka.Writer the publisher uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetter publishes requests that ended in a terminal failure.
type DeadLetter struct {
	writer writer
	topic  string
	now    func() time.Time
}

// NewDeadLetter creates a publisher for the dead-letter topic.
func NewDeadLetter(brokers, topic string) (*DeadLetter, error) {
	if err := ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(ParseBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	slog.Info("Kafka dead-letter producer configured", "topic", topic)
	return &DeadLetter{writer: w, topic: topic, now: time.Now}, nil
}

// Publish writes req with its failure to the dead-letter topic.
func (d *DeadLetter) Publish(ctx context.Context, req *events.EmailRequested, code, message string) error {
	value, err := json.Marshal(events.EmailDeadLettered{
		Request:      *req,
		ErrorCode:    code,
		ErrorMessage: message,
		FailedAt:     d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter event: %w", err)
	}
	if err := d.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.Key()), Value: value}); err != nil {
		return fmt.Errorf("failed to publish dead-letter event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (d *DeadLetter) Close() error {
	return d.writer.Close()
}
