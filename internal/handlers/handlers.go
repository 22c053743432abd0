package handlers

import (
	"log/slog"

	"mailer/internal/sender/payload"
)

// Handlers wraps dependencies for HTTP handlers.
type Handlers struct {
	mailer     Mailer
	dispatcher Dispatcher
	branding   payload.Branding

	identity  IdentityResolver
	exchanger CodeExchanger
	admin     AdminChecker
	events    EventReader
	logger    *slog.Logger
}

// Option is a functional option for configuring Handlers.
type Option func(*Handlers)

// WithAuth replaces the identity resolver, code exchanger and admin checker.
// Nil arguments keep the current value.
func WithAuth(identity IdentityResolver, exchanger CodeExchanger, admin AdminChecker) Option {
	return func(h *Handlers) {
		if identity != nil {
			h.identity = identity
		}
		if exchanger != nil {
			h.exchanger = exchanger
		}
		if admin != nil {
			h.admin = admin
		}
	}
}

// WithEventReader enables the admin event listing endpoint.
func WithEventReader(r EventReader) Option {
	return func(h *Handlers) {
		h.events = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandlers creates a new handlers instance. Authentication defaults to
// gateway identity headers with no allow-listed admins.
func NewHandlers(mailer Mailer, dispatcher Dispatcher, branding payload.Branding, opts ...Option) *Handlers {
	auth := NewHeaderAuth(nil)
	h := &Handlers{
		mailer:     mailer,
		dispatcher: dispatcher,
		branding:   branding,
		identity:   auth,
		exchanger:  auth,
		admin:      auth,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
