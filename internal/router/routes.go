package router

// setupRoutes configures all HTTP routes for the API. Handlers enforce their
// own HTTP method.
func (r *Router) setupRoutes() {
	// Email endpoints
	r.mux.HandleFunc("/api/email/welcome", r.handlers.SendWelcome)
	r.mux.HandleFunc("/api/auth/verify-complete", r.handlers.VerifyComplete)

	// Admin endpoints
	r.mux.HandleFunc("/api/admin/email/test", r.handlers.AdminTestEmail)
	r.mux.HandleFunc("/api/admin/email/events", r.handlers.ListEvents)

	r.mux.HandleFunc("/health", r.handlers.Health)
	if r.metricsHandler != nil {
		r.mux.Handle("/metrics", r.metricsHandler)
	}
}
