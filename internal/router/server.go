package router

import (
	"net/http"
	"time"
)

// Timeouts configures the HTTP server. Zero values use the defaults.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// NewServer creates a new HTTP server with the router configured. The write
// timeout must cover a synchronous send including its retries.
func NewServer(port string, router *Router, t Timeouts) *http.Server {
	if t.Read <= 0 {
		t.Read = 15 * time.Second
	}
	if t.Write <= 0 {
		t.Write = 60 * time.Second
	}
	if t.Idle <= 0 {
		t.Idle = 60 * time.Second
	}
	return &http.Server{
		Addr:              ":" + port,
		Handler:           router.Handler(),
		ReadTimeout:       t.Read,
		ReadHeaderTimeout: t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
	}
}
