// Package async runs email sends in the background without blocking the caller.
//
// Outcomes of background sends are never returned; failures are logged as
// email_async_failure events and panics as email_async_exception events.
// In-flight sends are tracked so the process can drain them on shutdown.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"mailer/internal/metrics"
	"mailer/internal/sender/email"
	"mailer/internal/sender/emaillog"
)

// CodeDispatcherClosed is reported for sends handed to a dispatcher after Shutdown.
const CodeDispatcherClosed = "DISPATCHER_CLOSED"

// DefaultMaxInFlight bounds concurrently running background sends.
const DefaultMaxInFlight = 64

// Context describes a background send for logging.
type Context struct {
	EmailType     string
	RecipientHint string // Raw address; masked before logging
}

// SendFunc performs one send. It receives the dispatcher's context, which is
// cancelled only when Shutdown gives up waiting.
type SendFunc func(ctx context.Context) email.Result

// Dispatcher supervises background sends.
type Dispatcher struct {
	events  *emaillog.Logger
	metrics metrics.Recorder
	logger  *slog.Logger
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEventLogger sets the event logger used for async failure events.
func WithEventLogger(l *emaillog.Logger) Option {
	return func(d *Dispatcher) { d.events = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMaxInFlight bounds concurrently running sends. Extra sends wait in their
// own goroutine; Dispatch never blocks.
func WithMaxInFlight(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(n)
		}
	}
}

// New creates a dispatcher.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		logger:  logger,
		metrics: metrics.NewNoOp(),
		sem:     semaphore.NewWeighted(DefaultMaxInFlight),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.events == nil {
		d.events = emaillog.New(logger)
	}
	return d
}

// Dispatch starts send in the background and returns immediately. A successful
// result is silent.
func (d *Dispatcher) Dispatch(send SendFunc, c Context) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.reportFailure(c, email.Failed("dispatcher is shut down", CodeDispatcherClosed))
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go d.run(send, c)
}

func (d *Dispatcher) run(send SendFunc, c Context) {
	defer d.wg.Done()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.reportFailure(c, email.Failed("dispatcher stopped before the send started", CodeDispatcherClosed))
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.reportException(c, r)
		}
	}()

	if result := send(d.ctx); !result.OK() {
		d.reportFailure(c, result)
	}
}

// Shutdown stops accepting sends and waits for in-flight ones. When ctx ends
// first, the running sends' context is cancelled and Shutdown returns without
// waiting further.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Async email dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Async email dispatcher shutdown timed out, cancelling in-flight sends")
		return fmt.Errorf("async sends did not drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) reportFailure(c Context, result email.Result) {
	failure, _ := result.Failure()
	d.events.Log(context.Background(), emaillog.Event{
		Type:         emaillog.EventAsyncFailure,
		EmailType:    c.EmailType,
		Recipient:    emaillog.MaskRecipient(c.RecipientHint),
		Status:       emaillog.StatusFailure,
		ErrorCode:    failure.Code,
		ErrorMessage: failure.Error,
	})
	d.metrics.RecordAsyncFailure(c.EmailType)
}

func (d *Dispatcher) reportException(c Context, r any) {
	msg := "Unknown error"
	switch v := r.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	}
	d.events.Log(context.Background(), emaillog.Event{
		Type:         emaillog.EventAsyncException,
		EmailType:    c.EmailType,
		Recipient:    emaillog.MaskRecipient(c.RecipientHint),
		Status:       emaillog.StatusFailure,
		ErrorMessage: msg,
	})
	d.metrics.RecordAsyncFailure(c.EmailType)
}

var defaultDispatcher atomic.Pointer[Dispatcher]

// Default returns the process-wide dispatcher, creating one on first use.
func Default() *Dispatcher {
	if d := defaultDispatcher.Load(); d != nil {
		return d
	}
	d := New(slog.Default())
	if defaultDispatcher.CompareAndSwap(nil, d) {
		return d
	}
	return defaultDispatcher.Load()
}

// SetDefault installs d as the process-wide dispatcher.
func SetDefault(d *Dispatcher) {
	defaultDispatcher.Store(d)
}

// Dispatch starts send on the default dispatcher.
func Dispatch(send SendFunc, c Context) {
	Default().Dispatch(send, c)
}
