// Package email provides the delivery client for transactional email.
//
// The client picks one delivery mode at construction: send through a provider
// with retry, render to the developer console, or refuse every send because no
// provider credential is configured. Send never panics and never returns an
// error; every outcome is a Result.
package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"mailer/internal/metrics"
	"mailer/internal/sender/email/provider"
	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/retry"
)

// Mode is the delivery strategy selected at construction.
type Mode int

const (
	ModeProvider Mode = iota // Deliver through a provider transport
	ModeConsole              // Render to the developer console, no network
	ModeDisabled             // No credential outside development: every send fails
)

func (m Mode) String() string {
	switch m {
	case ModeProvider:
		return "provider"
	case ModeConsole:
		return "console"
	case ModeDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const defaultEmailType = "generic"

// Client sends email. It is safe for concurrent use and is never mutated after
// construction.
type Client struct {
	mode      Mode
	transport provider.Transport
	from      string
	replyTo   string
	policy    retry.Policy
	events    *emaillog.Logger
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	transport provider.Transport
	events    *emaillog.Logger
	metrics   metrics.Recorder
	logger    *slog.Logger
	policy    *retry.Policy
	console   io.Writer
}

// WithTransport injects a transport and forces provider mode.
func WithTransport(t provider.Transport) Option {
	return func(o *clientOptions) { o.transport = t }
}

// WithEventLogger sets the delivery event logger.
func WithEventLogger(l *emaillog.Logger) Option {
	return func(o *clientOptions) { o.events = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger sets the logger used for client diagnostics and retry lines.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithPolicy sets the default retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(o *clientOptions) { o.policy = &p }
}

// WithConsole sets the writer used in console mode (stdout by default).
func WithConsole(w io.Writer) Option {
	return func(o *clientOptions) { o.console = w }
}

// NewClient builds a client from cfg. The delivery mode is decided here:
// an injected transport or configured credentials select provider mode; with
// no credentials, development selects console mode and anything else disables
// sending.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNoOp()
	}
	if o.events == nil {
		o.events = emaillog.New(o.logger)
	}

	c := &Client{
		from:    cfg.Sender(),
		replyTo: cfg.ReplyTo,
		policy:  retry.DefaultPolicy(),
		events:  o.events,
		metrics: o.metrics,
		logger:  o.logger,
	}
	if o.policy != nil {
		c.policy = *o.policy
	}

	switch {
	case o.transport != nil:
		c.mode = ModeProvider
		c.transport = o.transport
	case cfg.hasCredentials(cfg.providerName()):
		t, err := buildTransport(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		c.mode = ModeProvider
		c.transport = t
	case cfg.IsDevelopment():
		c.mode = ModeConsole
		c.transport = provider.NewConsole(o.console)
		o.logger.Warn("Email API key not configured - emails will be logged to console")
	default:
		c.mode = ModeDisabled
		o.logger.Warn("Email API key not configured - email sending is disabled",
			"provider", cfg.providerName(),
			"environment", cfg.Environment,
		)
	}

	if c.mode == ModeProvider {
		o.logger.Info("Email client initialized",
			"transport", c.transport.Name(),
			"from", c.from,
			"max_attempts", c.policy.MaxAttempts,
		)
	}
	return c, nil
}

// buildTransport creates the configured primary transport, any configured
// fallbacks, and the optional circuit breaker.
func buildTransport(ctx context.Context, cfg Config, logger *slog.Logger) (provider.Transport, error) {
	primary := cfg.providerName()
	names := append([]string{primary}, cfg.Fallback...)

	registry := provider.NewRegistry(logger)
	var fallbacks []string
	for _, name := range names {
		if _, exists := registry.Get(name); exists {
			continue
		}
		if name != primary && !cfg.hasCredentials(name) {
			logger.Warn("Skipping unconfigured fallback transport", "name", name)
			continue
		}
		t, err := newTransport(ctx, name, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s transport: %w", name, err)
		}
		if cfg.Breaker != nil {
			t = provider.NewBreaker(t, *cfg.Breaker, logger)
		}
		registry.Register(t)
		if name != primary {
			fallbacks = append(fallbacks, name)
		}
	}

	if len(fallbacks) == 0 {
		t, _ := registry.Get(primary)
		return t, nil
	}
	if err := registry.SetFallback(fallbacks...); err != nil {
		return nil, err
	}
	return registry, nil
}

func newTransport(ctx context.Context, name string, cfg Config, logger *slog.Logger) (provider.Transport, error) {
	switch name {
	case ProviderResend:
		return provider.NewResend(cfg.APIKey)
	case ProviderSES:
		return provider.NewSES(ctx, cfg.SES)
	case ProviderSMTP:
		return provider.NewSMTP(cfg.SMTP, logger)
	default:
		return nil, fmt.Errorf("unknown email provider %q", name)
	}
}

// Mode returns the delivery mode chosen at construction.
func (c *Client) Mode() Mode {
	return c.mode
}

// SendOption customizes a single Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	emailType string
	noRetry   bool
	policy    *retry.Policy
}

// WithEmailType labels the send for logs and metrics (default "generic").
func WithEmailType(t string) SendOption {
	return func(o *sendOptions) {
		if t != "" {
			o.emailType = t
		}
	}
}

// WithoutRetry performs exactly one attempt.
func WithoutRetry() SendOption {
	return func(o *sendOptions) { o.noRetry = true }
}

// WithRetryPolicy overrides the client's retry policy for this send.
func WithRetryPolicy(p retry.Policy) SendOption {
	return func(o *sendOptions) { o.policy = &p }
}

// Send delivers req and reports the outcome. It logs exactly one terminal event
// (sent, failed or dev-mode) plus one retry event per scheduled retry.
func (c *Client) Send(ctx context.Context, req Request, opts ...SendOption) Result {
	so := sendOptions{emailType: defaultEmailType}
	for _, opt := range opts {
		opt(&so)
	}

	elapsed := emaillog.StartTimer()
	recipient := emaillog.MaskRecipient(req.To...)
	msg := c.message(req, so.emailType)

	switch c.mode {
	case ModeDisabled:
		return c.sendDisabled(ctx, req, so.emailType, recipient)
	case ModeConsole:
		return c.sendConsole(ctx, msg, so.emailType, recipient)
	}

	policy := c.policy
	if so.policy != nil {
		policy = *so.policy
	}
	var out retry.Outcome[Result]
	if so.noRetry {
		policy = policy.WithMaxAttempts(1)
		out = retry.Outcome[Result]{Result: c.attempt(ctx, msg), Attempts: 1}
	} else {
		out = c.sendWithRetry(ctx, msg, req.Subject, policy, so.emailType, recipient)
	}

	durationMs := elapsed()
	result := out.Result
	c.metrics.RecordLatency(so.emailType, time.Duration(durationMs)*time.Millisecond)

	if success, ok := result.Success(); ok {
		c.events.Log(ctx, emaillog.Event{
			Type:          emaillog.EventSent,
			EmailType:     so.emailType,
			Recipient:     recipient,
			Subject:       req.Subject,
			MessageID:     success.MessageID,
			Status:        emaillog.StatusSuccess,
			Attempt:       out.Attempts,
			TotalAttempts: policy.MaxAttempts,
			DurationMs:    durationMs,
		})
		c.metrics.RecordSent(so.emailType)
		return result
	}

	failure, _ := result.Failure()
	c.events.Log(ctx, emaillog.Event{
		Type:          emaillog.EventFailed,
		EmailType:     so.emailType,
		Recipient:     recipient,
		Subject:       req.Subject,
		Status:        emaillog.StatusFailure,
		ErrorCode:     failure.Code,
		ErrorMessage:  failure.Error,
		Attempt:       out.Attempts,
		TotalAttempts: policy.MaxAttempts,
		DurationMs:    durationMs,
	})
	c.metrics.RecordFailed(so.emailType, failure.Code)
	return result
}

// SendPlain sends a message built from its parts.
func (c *Client) SendPlain(ctx context.Context, to []string, subject, text, html string, opts ...SendOption) Result {
	return c.Send(ctx, Request{To: to, Subject: subject, Text: text, HTML: html}, opts...)
}

func (c *Client) sendDisabled(ctx context.Context, req Request, emailType, recipient string) Result {
	const msg = "Email API key not configured"
	c.events.Log(ctx, emaillog.Event{
		Type:         emaillog.EventFailed,
		EmailType:    emailType,
		Recipient:    recipient,
		Subject:      req.Subject,
		Status:       emaillog.StatusFailure,
		ErrorCode:    retry.CodeAPIKeyMissing,
		ErrorMessage: msg,
	})
	c.metrics.RecordFailed(emailType, retry.CodeAPIKeyMissing)
	return Failed(msg, retry.CodeAPIKeyMissing)
}

func (c *Client) sendConsole(ctx context.Context, msg *provider.Message, emailType, recipient string) Result {
	id, err := c.transport.Send(ctx, msg)
	if err != nil {
		// The console transport does not fail; keep the contract if a custom one does.
		id = provider.DevMessageID(time.Now())
	}
	c.events.Log(ctx, emaillog.Event{
		Type:      emaillog.EventDevMode,
		EmailType: emailType,
		Recipient: recipient,
		Subject:   msg.Subject,
		MessageID: id,
		Status:    emaillog.StatusDevMode,
	})
	c.metrics.RecordDevMode(emailType)
	return Succeeded(id)
}

// sendWithRetry runs attempts under policy, logging a retry event for every
// scheduled retry.
func (c *Client) sendWithRetry(ctx context.Context, msg *provider.Message, subject string, policy retry.Policy, emailType, recipient string) retry.Outcome[Result] {
	return retry.Do(ctx, policy,
		func(ctx context.Context) Result { return c.attempt(ctx, msg) },
		Result.OK,
		Result.Code,
		retry.WithLogger(c.logger),
		retry.WithAttrs("email_type", emailType, "recipient", recipient),
		retry.OnRetry(func(a retry.Attempt) {
			c.events.Log(ctx, emaillog.Event{
				Type:          emaillog.EventRetry,
				EmailType:     emailType,
				Recipient:     recipient,
				Subject:       subject,
				Status:        emaillog.StatusRetry,
				ErrorCode:     a.ErrorCode,
				Attempt:       a.Number,
				TotalAttempts: a.MaxAttempts,
				DurationMs:    a.Delay.Milliseconds(),
			})
			c.metrics.RecordRetry(emailType, a.ErrorCode)
		}),
	)
}

// attempt performs one provider call, converting every outcome, including a
// panic inside the transport, into a Result.
func (c *Client) attempt(ctx context.Context, msg *provider.Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Email transport panicked", "transport", c.transport.Name(), "panic", r)
			res = Failed(fmt.Sprint(r), retry.CodeSendException)
		}
	}()

	id, err := c.transport.Send(ctx, msg)
	if err == nil {
		return Succeeded(id)
	}
	if pe, ok := provider.AsError(err); ok {
		return Failed(pe.Message, pe.Name)
	}
	return Failed(err.Error(), retry.CodeSendException)
}

// message maps a request onto the transport payload. The request's reply-to
// wins over the configured default.
func (c *Client) message(req Request, emailType string) *provider.Message {
	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = c.replyTo
	}
	return &provider.Message{
		From:     c.from,
		To:       slices.Clone(req.To),
		Cc:       slices.Clone(req.Cc),
		Bcc:      slices.Clone(req.Bcc),
		ReplyTo:  replyTo,
		Subject:  req.Subject,
		Text:     req.Text,
		HTML:     req.HTML,
		Tags:     slices.Clone(req.Tags),
		Category: emailType,
	}
}
