// Package provider defines the outbound email transport interface and its implementations.
// It uses the Strategy pattern to support multiple email backends (Resend, SES, SMTP, console).
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Tag is a name/value pair attached to a message for provider-side analytics.
type Tag struct {
	Name  string
	Value string
}

// Message is a fully addressed email ready to hand to a transport.
type Message struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	ReplyTo  string
	Subject  string
	Text     string // Plain text body
	HTML     string // HTML body (optional)
	Tags     []Tag
	Category string // Email type, used by the console transport
}

// Transport delivers a message and returns the provider-assigned message id.
//
// A structured provider rejection is returned as *Error. Any other error is
// treated by callers as a transport exception.
type Transport interface {
	// Name returns the transport name (e.g., "resend", "ses")
	Name() string

	// Send delivers msg.
	Send(ctx context.Context, msg *Message) (string, error)
}

// Provider error names shared by all transports. They match the names the
// Resend API reports in its error payload; other transports map onto them.
const (
	NameRateLimit        = "rate_limit_exceeded"
	NameUnavailable      = "temporarily_unavailable"
	NameInternal         = "internal_server_error"
	NameValidation       = "validation_error"
	NameInvalidAPIKey    = "invalid_api_key"
	NameUnverifiedSender = "unverified_sender"
	NameApplication      = "application_error"
)

// Error is a structured rejection reported by a provider.
// Name is the provider's error code, e.g. "rate_limit_exceeded".
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// AsError extracts a structured provider error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Registry manages transports with fallback support. A Registry is itself a
// Transport: Send goes through the primary and, when the primary fails with a
// transport exception, through the fallbacks in order.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	primary    string   // Primary transport name
	fallback   []string // Fallback transport names in order
	logger     *slog.Logger
}

// NewRegistry creates a new transport registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transports: make(map[string]Transport),
		logger:     logger,
	}
}

// Register adds a transport to the registry. The first registered transport
// becomes the primary until SetPrimary is called.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
	if r.primary == "" {
		r.primary = t.Name()
	}
	r.logger.Info("Registered email transport", "name", t.Name())
}

// SetPrimary sets the primary transport by name.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transports[name]; !ok {
		return fmt.Errorf("transport %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the fallback transports in order.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.transports[name]; !ok {
			return fmt.Errorf("transport %q not registered", name)
		}
	}
	r.fallback = names
	r.logger.Info("Set fallback email transports", "order", names)
	return nil
}

// Get returns a transport by name.
func (r *Registry) Get(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Name returns the primary transport name.
func (r *Registry) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Send delivers msg via the primary transport. Structured provider rejections
// are returned as is; only transport exceptions trigger the fallbacks, and the
// primary's error is returned if every fallback fails too.
func (r *Registry) Send(ctx context.Context, msg *Message) (string, error) {
	r.mu.RLock()
	primary, ok := r.transports[r.primary]
	fallbacks := r.fallback
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no email transport registered")
	}

	id, err := primary.Send(ctx, msg)
	if err == nil {
		return id, nil
	}
	if _, structured := AsError(err); structured {
		return "", err
	}

	for _, name := range fallbacks {
		t, ok := r.Get(name)
		if !ok || name == primary.Name() {
			continue
		}

		r.logger.Warn("Primary transport failed, trying fallback",
			"primary", primary.Name(),
			"fallback", name,
			"error", err,
		)

		if id, fallbackErr := t.Send(ctx, msg); fallbackErr == nil {
			return id, nil
		}
	}
	return "", err
}

// List returns all registered transport names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
