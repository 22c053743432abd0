package processor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
	"mailer/internal/metrics"
	"mailer/internal/sender/email"
	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/payload"
	"mailer/internal/sender/retry"
	"mailer/internal/sender/validation"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 10

// readErrorBackoff pauses the read loop after a broker error.
var readErrorBackoff = time.Second

// work represents a unit of work for the worker pool.
type work struct {
	req *events.EmailRequested
	msg *kafka.Message
}

// Processor delivers email requests read from Kafka. Offsets are committed
// once a request reaches a final outcome: delivered, or failed and recorded.
type Processor struct {
	reader     MessageReader
	mailer     payload.Sender
	deadLetter DeadLetterPublisher
	branding   payload.Branding
	metrics    metrics.Recorder
	workers    int
	logger     *slog.Logger
}

// Option is a functional option for configuring the Processor.
type Option func(*Processor)

// WithDeadLetter publishes terminal failures to d before committing them.
func WithDeadLetter(d DeadLetterPublisher) Option {
	return func(p *Processor) {
		p.deadLetter = d
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithWorkers sets the worker count. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBranding sets the application identity used by templated requests.
func WithBranding(b payload.Branding) Option {
	return func(p *Processor) {
		p.branding = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a processor reading from reader and sending through mailer.
func New(reader MessageReader, mailer payload.Sender, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		mailer:   mailer,
		branding: payload.DefaultBranding,
		metrics:  metrics.NewNoOp(),
		workers:  DefaultWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reads email requests and processes them concurrently until ctx is
// cancelled. Sends already in progress finish and commit; queued work that
// has not started is left uncommitted and will be redelivered.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("Starting email request processing loop", "workers", p.workers)

	jobs := make(chan work, p.workers)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.runWorker(ctx, jobs, &wg)
	}

	p.dispatchMessages(ctx, jobs)

	close(jobs)
	wg.Wait()
	p.logger.Info("Email request processing loop stopped")
	return nil
}

// runWorker processes jobs from the channel until it's closed.
func (p *Processor) runWorker(ctx context.Context, jobs <-chan work, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if ctx.Err() != nil {
			continue
		}
		p.processOne(context.WithoutCancel(ctx), job)
	}
}

// dispatchMessages reads messages from Kafka and dispatches them to workers.
func (p *Processor) dispatchMessages(ctx context.Context, jobs chan<- work) {
	for {
		req, msg, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if msg != nil {
				p.skipMalformed(ctx, msg, err)
				continue
			}
			p.logger.Error("Failed to read email request", "error", err)
			select {
			case <-time.After(readErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		p.metrics.RecordReceived()
		select {
		case jobs <- work{req: req, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// skipMalformed commits past a message that can never be processed.
func (p *Processor) skipMalformed(ctx context.Context, msg *kafka.Message, err error) {
	p.logger.Warn("Skipping malformed email request",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
	p.metrics.RecordReceived()
	p.metrics.RecordSkipped()
	p.commitOffset(ctx, msg)
}

// processOne builds, sends and commits a single request.
func (p *Processor) processOne(ctx context.Context, job work) {
	start := time.Now()
	emailType := emailTypeOf(job.req)

	req, err := p.buildRequest(job.req)
	if err != nil {
		p.handleFailure(ctx, job, emailType, start, email.Failed(err.Error(), failureCode(err)))
		return
	}

	result := p.mailer.Send(ctx, req, email.WithEmailType(emailType))
	if !result.OK() {
		p.handleFailure(ctx, job, emailType, start, result)
		return
	}

	p.metrics.RecordProcessed(time.Since(start))
	p.logger.Info("Email request delivered",
		"request_id", job.req.RequestID,
		"email_type", emailType,
		"message_id", result.MessageID(),
	)
	p.commitOffset(ctx, job.msg)
}

// handleFailure records a terminal failure. When a dead-letter topic is
// configured and publishing fails the offset is left uncommitted.
func (p *Processor) handleFailure(ctx context.Context, job work, emailType string, start time.Time, result email.Result) {
	p.logger.Warn("Email request failed",
		"request_id", job.req.RequestID,
		"email_type", emailType,
		"recipient", emaillog.MaskRecipient(job.req.To...),
		"error_code", result.Code(),
	)

	if p.deadLetter != nil {
		if err := p.deadLetter.Publish(ctx, job.req, result.Code(), result.ErrorMessage()); err != nil {
			p.logAndRecordError("Failed to publish dead letter",
				"request_id", job.req.RequestID, "error", err)
			return
		}
	}

	p.metrics.RecordProcessed(time.Since(start))
	p.metrics.RecordError()
	p.commitOffset(ctx, job.msg)
}

// commitOffset commits the Kafka offset for the given message.
func (p *Processor) commitOffset(ctx context.Context, msg *kafka.Message) {
	if err := p.reader.CommitMessage(ctx, msg); err != nil {
		p.logger.Error("Failed to commit offset", "error", err)
	}
}

// logAndRecordError logs an error and records it in metrics.
func (p *Processor) logAndRecordError(msg string, args ...any) {
	p.logger.Error(msg, args...)
	p.metrics.RecordError()
}

type invalidRecipientsError struct {
	addrs []string
}

func (e *invalidRecipientsError) Error() string {
	masked := make([]string, len(e.addrs))
	for i, a := range e.addrs {
		masked[i] = emaillog.MaskRecipient(a)
	}
	return "invalid recipient addresses: " + strings.Join(masked, ", ")
}

type templateError struct {
	err error
}

func (e *templateError) Error() string { return e.err.Error() }

func (e *templateError) Unwrap() error { return e.err }

func failureCode(err error) string {
	switch err.(type) {
	case *invalidRecipientsError:
		return retry.CodeValidationError
	case *templateError:
		return payload.CodeTemplateError
	default:
		return retry.CodeUnknown
	}
}

// buildRequest turns an event into a delivery request, rendering the
// template when one is named.
func (p *Processor) buildRequest(e *events.EmailRequested) (email.Request, error) {
	all := slices.Concat(e.To, e.Cc, e.Bcc)
	if bad := validation.InvalidEmails(all); len(bad) > 0 {
		return email.Request{}, &invalidRecipientsError{addrs: bad}
	}
	if e.ReplyTo != "" && !validation.IsValidEmail(e.ReplyTo) {
		return email.Request{}, &invalidRecipientsError{addrs: []string{e.ReplyTo}}
	}

	var req email.Request
	if e.Template != "" {
		t, err := payload.ParseTemplate(e.Template)
		if err != nil {
			return email.Request{}, &templateError{err: err}
		}
		req, err = payload.Compose(t, e.To[0], e.Data, p.branding)
		if err != nil {
			return email.Request{}, &templateError{err: fmt.Errorf("failed to render %s: %w", t, err)}
		}
		req.To = slices.Clone(e.To)
	} else {
		req = email.Request{
			To:      slices.Clone(e.To),
			Subject: e.Subject,
			Text:    e.Text,
			HTML:    e.HTML,
		}
	}

	req.Cc = slices.Clone(e.Cc)
	req.Bcc = slices.Clone(e.Bcc)
	req.ReplyTo = e.ReplyTo
	for _, tag := range e.Tags {
		req.Tags = append(req.Tags, email.Tag{Name: tag.Name, Value: tag.Value})
	}
	return req, nil
}

func emailTypeOf(e *events.EmailRequested) string {
	switch {
	case e.EmailType != "":
		return e.EmailType
	case e.Template != "":
		return e.Template
	default:
		return "generic"
	}
}
