// Package emaillog provides privacy-safe structured logging for email delivery events.
// Recipient addresses are masked before they reach any log sink.
package emaillog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventType identifies a delivery lifecycle event.
type EventType string

const (
	EventSent           EventType = "email_sent"
	EventFailed         EventType = "email_failed"
	EventRetry          EventType = "email_retry"
	EventDevMode        EventType = "email_dev_mode"
	EventAsyncFailure   EventType = "email_async_failure"
	EventAsyncException EventType = "email_async_exception"
)

// Status summarizes the outcome carried by an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRetry   Status = "retry"
	StatusDevMode Status = "dev_mode"
)

// Event is a single delivery log record. Events are write-once; Recipient must
// already be masked with MaskRecipient.
type Event struct {
	Type          EventType `json:"type"`
	EmailType     string    `json:"email_type"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject,omitempty"`
	MessageID     string    `json:"message_id,omitempty"`
	Status        Status    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempt       int       `json:"attempt,omitempty"`
	TotalAttempts int       `json:"total_attempts,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink receives every event after it has been written to the structured log.
// Implementations must not block for long; the event store buffers writes.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Logger writes delivery events to slog and fans them out to sinks.
// A nil *Logger logs to slog.Default() without sinks.
type Logger struct {
	log   *slog.Logger
	sinks []Sink
	now   func() time.Time
}

// New creates an event logger. If log is nil, slog.Default() is used at write time.
func New(log *slog.Logger, sinks ...Sink) *Logger {
	return &Logger{
		log:   log,
		sinks: sinks,
		now:   time.Now,
	}
}

// Log stamps the event and routes it by type: sent and dev-mode events at info,
// retries at warn, failures and async problems at error. Log never fails the
// caller; sink errors and panics are swallowed.
func (l *Logger) Log(ctx context.Context, e Event) {
	now := time.Now
	if l != nil && l.now != nil {
		now = l.now
	}
	e.Timestamp = now().UTC()

	func() {
		// A failing handler has nowhere left to report to.
		defer func() { _ = recover() }()
		l.logger().Log(ctx, levelFor(e.Type), messageFor(e), attrs(e)...)
	}()

	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		l.writeSink(ctx, sink, e)
	}
}

// writeSink delivers e to one sink, isolating the caller from its failures.
func (l *Logger) writeSink(ctx context.Context, sink Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger().Debug("Email event sink panicked", "type", e.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := sink.Write(ctx, e); err != nil {
		l.logger().Debug("Email event sink write failed", "type", e.Type, "error", err)
	}
}

func (l *Logger) logger() *slog.Logger {
	if l == nil || l.log == nil {
		return slog.Default()
	}
	return l.log
}

func levelFor(t EventType) slog.Level {
	switch t {
	case EventSent, EventDevMode:
		return slog.LevelInfo
	case EventRetry:
		return slog.LevelWarn
	case EventFailed, EventAsyncFailure, EventAsyncException:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func messageFor(e Event) string {
	switch e.Type {
	case EventSent:
		return "Email sent: " + e.EmailType
	case EventFailed:
		return "Email failed: " + e.EmailType
	case EventRetry:
		return "Email retry: " + e.EmailType
	case EventDevMode:
		return "Email logged (dev mode): " + e.EmailType
	case EventAsyncFailure:
		return "Async email send failed"
	case EventAsyncException:
		return "Async email send exception"
	default:
		return "Email event: " + e.EmailType
	}
}

// attrs flattens the event into slog key/value pairs, omitting empty optionals.
func attrs(e Event) []any {
	args := []any{
		"type", string(e.Type),
		"email_type", e.EmailType,
		"recipient", e.Recipient,
		"status", string(e.Status),
		"timestamp", e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Subject != "" {
		args = append(args, "subject", e.Subject)
	}
	if e.MessageID != "" {
		args = append(args, "message_id", e.MessageID)
	}
	if e.ErrorCode != "" {
		args = append(args, "error_code", e.ErrorCode)
	}
	if e.ErrorMessage != "" {
		args = append(args, "error_message", e.ErrorMessage)
	}
	if e.Attempt > 0 {
		args = append(args, "attempt", e.Attempt)
	}
	if e.TotalAttempts > 0 {
		args = append(args, "total_attempts", e.TotalAttempts)
	}
	if e.DurationMs > 0 {
		args = append(args, "duration_ms", e.DurationMs)
	}
	return args
}

// StartTimer captures the current instant and returns a closure reporting the
// elapsed milliseconds. The closure may be called any number of times.
func StartTimer() func() int64 {
	start := time.Now()
	return func() int64 {
		return time.Since(start).Milliseconds()
	}
}
