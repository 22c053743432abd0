// Package router provides HTTP routing configuration for the mailer API.
package router

import (
	"log/slog"
	"net/http"

	"mailer/internal/handlers"
	"mailer/internal/metrics"
)

// Router wraps the HTTP mux and provides route configuration.
type Router struct {
	mux            *http.ServeMux
	handlers       *handlers.Handlers
	recorder       metrics.HTTPRecorder
	metricsHandler http.Handler
	logger         *slog.Logger
}

// Option is a functional option for configuring the Router.
type Option func(*Router)

// WithMetrics records request metrics with rec and serves handler at /metrics.
// Either may be nil.
func WithMetrics(rec metrics.HTTPRecorder, handler http.Handler) Option {
	return func(r *Router) {
		r.recorder = rec
		r.metricsHandler = handler
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *handlers.Handlers, opts ...Option) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		handlers: h,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler with the middleware chain applied.
func (r *Router) Handler() http.Handler {
	var handler http.Handler = r.mux
	handler = recoveryMiddleware(r.logger)(handler)
	handler = corsMiddleware(handler)
	handler = metricsMiddleware(r.recorder)(handler)
	handler = loggingMiddleware(r.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}
