package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mailer/internal/sender/emaillog"
)

// ErrQueueFull is returned by Write when the event buffer is full. The event is dropped.
var ErrQueueFull = errors.New("email event queue is full")

const (
	defaultQueueSize = 1024
	insertTimeout    = 5 * time.Second
	drainTimeout     = 10 * time.Second
)

// StoredEvent is an email event read back from the store.
type StoredEvent struct {
	ID string `json:"id"`
	emaillog.Event
}

// EventStore persists masked email events into the email_events table. Writes
// are buffered and inserted by Run so that logging never waits on the database.
type EventStore struct {
	db      *DB
	queue   chan emaillog.Event
	logger  *slog.Logger
	newID   func() string
	dropped atomic.Int64
}

// NewEventStore creates an event store with the given buffer size (1024 when <= 0).
func NewEventStore(db *DB, bufferSize int, logger *slog.Logger) *EventStore {
	if bufferSize <= 0 {
		bufferSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{
		db:     db,
		queue:  make(chan emaillog.Event, bufferSize),
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// Write enqueues e for insertion. It never blocks.
func (s *EventStore) Write(_ context.Context, e emaillog.Event) error {
	select {
	case s.queue <- e:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *EventStore) Dropped() int64 {
	return s.dropped.Load()
}

// Run inserts queued events until ctx is cancelled, then drains what is left
// within a bounded time. It always returns nil so it can run in an errgroup
// without taking the service down.
func (s *EventStore) Run(ctx context.Context) error {
	s.logger.Info("Email event store started", "buffer", cap(s.queue))
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case e := <-s.queue:
			// A dequeued event is written even if shutdown starts mid-insert.
			s.insert(context.WithoutCancel(ctx), e)
		}
	}
}

func (s *EventStore) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case e := <-s.queue:
			s.insert(ctx, e)
		default:
			s.logger.Info("Email event store stopped", "dropped", s.dropped.Load())
			return
		}
	}
}

func (s *EventStore) insert(ctx context.Context, e emaillog.Event) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	if err := s.Insert(ctx, e); err != nil {
		s.logger.Warn("Failed to store email event", "type", e.Type, "error", err)
	}
}

// Insert writes one event synchronously.
func (s *EventStore) Insert(ctx context.Context, e emaillog.Event) error {
	query := `
		INSERT INTO email_events (
			event_id, type, email_type, recipient, subject, message_id, status,
			error_code, error_message, attempt, total_attempts, duration_ms, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.conn.ExecContext(ctx, query,
		s.newID(),
		string(e.Type),
		e.EmailType,
		e.Recipient,
		nullString(e.Subject),
		nullString(e.MessageID),
		string(e.Status),
		nullString(e.ErrorCode),
		nullString(e.ErrorMessage),
		nullInt(int64(e.Attempt)),
		nullInt(int64(e.TotalAttempts)),
		nullInt(e.DurationMs),
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert email event: %w", err)
	}
	return nil
}

// Recent returns the newest events, optionally filtered by email type.
func (s *EventStore) Recent(ctx context.Context, emailType string, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
		SELECT event_id, type, email_type, recipient, subject, message_id, status,
			error_code, error_message, attempt, total_attempts, duration_ms, occurred_at
		FROM email_events
		WHERE ($1 = '' OR email_type = $1)
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.db.conn.QueryContext(ctx, query, emailType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query email events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			ev                                      StoredEvent
			eventType, status                       string
			subject, messageID, errCode, errMessage sql.NullString
			attempt, totalAttempts, durationMs      sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &eventType, &ev.EmailType, &ev.Recipient, &subject, &messageID, &status,
			&errCode, &errMessage, &attempt, &totalAttempts, &durationMs, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan email event: %w", err)
		}
		ev.Type = emaillog.EventType(eventType)
		ev.Status = emaillog.Status(status)
		ev.Subject = subject.String
		ev.MessageID = messageID.String
		ev.ErrorCode = errCode.String
		ev.ErrorMessage = errMessage.String
		ev.Attempt = int(attempt.Int64)
		ev.TotalAttempts = int(totalAttempts.Int64)
		ev.DurationMs = durationMs.Int64
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}

var _ emaillog.Sink = (*EventStore)(nil)
