package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"mailer/internal/database"
	"mailer/internal/sender/async"
	"mailer/internal/sender/email"
	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/payload"
	"mailer/internal/sender/validation"
)

const (
	signInPath       = "/en/sign-in"
	defaultLocale    = "en"
	emailTypeAdmin   = "admin_test"
	defaultEventsCap = 50
)

var localePrefix = regexp.MustCompile(`^/([^/]+)/`)

// SendResponse is returned by endpoints that deliver a message.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Message   string `json:"message,omitempty"`
}

// TestEmailRequest is the body of the admin test endpoint.
type TestEmailRequest struct {
	Template string         `json:"template"`
	Email    string         `json:"email"`
	Data     map[string]any `json:"data,omitempty"`
}

// SendWelcome sends the welcome message to the authenticated user and waits
// for the outcome.
// POST /api/email/welcome
func (h *Handlers) SendWelcome(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	id, err := h.identity.Resolve(r)
	if err != nil || id == nil || id.Email == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	res := payload.SendWelcome(r.Context(), h.mailer, id.Email, id.Name, h.branding)
	if !res.OK() {
		h.logger.Warn("Welcome email failed",
			"recipient", emaillog.MaskRecipient(id.Email),
			"error_code", res.Code(),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to send email", Code: res.Code()})
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{Success: true, MessageID: res.MessageID()})
}

// VerifyComplete finishes an email/password sign-up. The welcome message is
// dispatched in the background and the user is redirected without waiting.
// GET /api/auth/verify-complete?code=...&next=...
func (h *Handlers) VerifyComplete(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	next := safeRedirect(query.Get("next"))

	if code == "" {
		http.Redirect(w, r, signInPath, http.StatusTemporaryRedirect)
		return
	}

	id, err := h.exchanger.ExchangeCode(r, code)
	if err != nil {
		h.logger.Warn("Verification code exchange failed", "error", err)
		http.Redirect(w, r, "/"+localeOf(next)+"/auth-code-error", http.StatusTemporaryRedirect)
		return
	}

	if id != nil && id.Email != "" {
		to, name := id.Email, id.Name
		h.dispatcher.Dispatch(func(ctx context.Context) email.Result {
			return payload.SendWelcome(ctx, h.mailer, to, name, h.branding)
		}, async.Context{EmailType: string(payload.TemplateWelcome), RecipientHint: to})
	}

	http.Redirect(w, r, next, http.StatusTemporaryRedirect)
}

// AdminTestEmail renders one of the templates with the given data and sends
// it, marked as a test, to any address.
// POST /api/admin/email/test
func (h *Handlers) AdminTestEmail(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req TestEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tmpl, err := payload.ParseTemplate(req.Template)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validation.IsValidEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "email must be a valid email address")
		return
	}

	msg, err := payload.AdminTest(tmpl, req.Email, req.Data, h.branding)
	if err != nil {
		h.logger.Error("Failed to render test email", "template", tmpl, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render test email")
		return
	}

	res := h.mailer.Send(r.Context(), msg, email.WithEmailType(emailTypeAdmin))
	h.logger.Info("Admin test email requested",
		"admin", emaillog.MaskRecipient(admin.Email),
		"template", tmpl,
		"recipient", emaillog.MaskRecipient(req.Email),
		"success", res.OK(),
	)
	if !res.OK() {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to send test email", Code: res.Code()})
		return
	}

	message := "Test email sent to " + req.Email
	if h.mailer.Mode() == email.ModeConsole {
		message = "Test email written to the console for " + req.Email
	}
	writeJSON(w, http.StatusOK, SendResponse{Success: true, MessageID: res.MessageID(), Message: message})
}

// EventsResponse lists stored delivery events.
type EventsResponse struct {
	Events []database.StoredEvent `json:"events"`
	Count  int                    `json:"count"`
}

// ListEvents returns the newest stored delivery events.
// GET /api/admin/email/events?type=...&limit=...
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}

	events, err := h.events.Recent(r.Context(), r.URL.Query().Get("type"), queryInt(r, "limit", defaultEventsCap))
	if err != nil {
		h.logger.Error("Failed to list email events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve email events")
		return
	}

	if events == nil {
		events = []database.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

// HealthResponse reports liveness and the active delivery mode.
type HealthResponse struct {
	Status       string `json:"status"`
	DeliveryMode string `json:"delivery_mode"`
}

// Health reports that the service is up.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", DeliveryMode: h.mailer.Mode().String()})
}

func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, err := h.identity.Resolve(r)
	if err != nil || id == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	if !h.admin.IsAdmin(id) {
		writeError(w, http.StatusForbidden, "Admin access required")
		return nil, false
	}
	return id, true
}

// safeRedirect keeps redirects on this origin.
func safeRedirect(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}
	return next
}

func localeOf(next string) string {
	if m := localePrefix.FindStringSubmatch(next); m != nil {
		return m[1]
	}
	return defaultLocale
}
