// Package processor consumes email requests from Kafka and delivers them with
// a fixed pool of workers.
package processor

import (
	"context"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
)

// MessageReader reads email request messages from a message queue.
type MessageReader interface {
	// ReadMessage reads the next message and returns the parsed EmailRequested
	// event. When the message is malformed the event is nil but the raw message
	// is returned so its offset can be committed.
	ReadMessage(ctx context.Context) (*events.EmailRequested, *kafka.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

// DeadLetterPublisher records requests that failed terminally.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, req *events.EmailRequested, code, message string) error
}
