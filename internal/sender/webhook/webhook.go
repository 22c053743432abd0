// Package webhook posts delivery failure alerts to an HTTP endpoint.
//
// A Notifier is an emaillog.Sink: it picks terminal failure events out of the
// event stream, queues them, and POSTs each one as JSON from its Run loop.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/validation"
)

const (
	defaultQueueSize = 256
	defaultTimeout   = 10 * time.Second
	drainTimeout     = 5 * time.Second
)

// ErrQueueFull is returned by Write when an alert had to be dropped.
var ErrQueueFull = errors.New("webhook alert queue full")

// Alert is the generic JSON body posted for a failure.
type Alert struct {
	Source string         `json:"source"`
	Event  emaillog.Event `json:"event"`
}

// Formatter turns an event into a request body. The result is JSON-encoded.
type Formatter func(e emaillog.Event) any

// Notifier posts alerts for failure events.
type Notifier struct {
	url        string
	name       string
	format     Formatter
	httpClient *http.Client
	queue      chan emaillog.Event
	logger     *slog.Logger
}

// Option is a functional option for configuring the Notifier.
type Option func(*Notifier)

// WithFormatter replaces the generic Alert body.
func WithFormatter(f Formatter) Option {
	return func(n *Notifier) {
		if f != nil {
			n.format = f
		}
	}
}

// WithHTTPClient sets the HTTP client used for posting.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// WithName labels the notifier in logs.
func WithName(name string) Option {
	return func(n *Notifier) {
		n.name = name
	}
}

// WithQueueSize sets the alert buffer size. Values below 1 are ignored.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan emaillog.Event, size)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNotifier creates a notifier posting to url.
func NewNotifier(url, source string, opts ...Option) (*Notifier, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if !validation.IsValidURL(url) {
		return nil, fmt.Errorf("invalid webhook URL: must be a valid HTTP/HTTPS URL")
	}

	n := &Notifier{
		url:  url,
		name: "webhook",
		format: func(e emaillog.Event) any {
			return Alert{Source: source, Event: e}
		},
		httpClient: &http.Client{Timeout: defaultTimeout},
		queue:      make(chan emaillog.Event, defaultQueueSize),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// IsAlert reports whether e describes a send that will not be retried.
func IsAlert(e emaillog.Event) bool {
	switch e.Type {
	case emaillog.EventFailed, emaillog.EventAsyncFailure, emaillog.EventAsyncException:
		return true
	default:
		return false
	}
}

// Write queues failure events and ignores everything else. It never blocks.
func (n *Notifier) Write(_ context.Context, e emaillog.Event) error {
	if !IsAlert(e) {
		return nil
	}
	select {
	case n.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run posts queued alerts until ctx is cancelled, then flushes what is left
// within a bounded time. It always returns nil.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return nil
		case e := <-n.queue:
			n.post(context.WithoutCancel(ctx), e)
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-n.queue:
			n.post(ctx, e)
		default:
			return
		}
	}
}

func (n *Notifier) post(ctx context.Context, e emaillog.Event) {
	if err := n.Send(ctx, e); err != nil {
		n.logger.Warn("Failed to post delivery alert",
			"notifier", n.name,
			"type", e.Type,
			"error", err,
		)
	}
}

// Send posts one event synchronously.
func (n *Notifier) Send(ctx context.Context, e emaillog.Event) error {
	body, err := json.Marshal(n.format(e))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", n.name, resp.StatusCode)
	}

	n.logger.Debug("Posted delivery alert",
		"notifier", n.name,
		"type", e.Type,
		"email_type", e.EmailType,
	)
	return nil
}
