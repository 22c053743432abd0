package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// EmailsAPI is the subset of the Resend SDK used by the transport.
// Used for testing with mock implementations.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers email through the Resend HTTP API.
type Resend struct {
	emails EmailsAPI
}

const resendTimeout = 30 * time.Second

// NewResend creates a Resend transport authenticated with apiKey.
func NewResend(apiKey string) (*Resend, error) {
	return newResend(apiKey, nil)
}

// newResend builds the SDK client with a status-recording HTTP transport.
// A non-nil baseURL overrides the API endpoint.
func newResend(apiKey string, baseURL *url.URL) (*Resend, error) {
	apiKey = strings.Trim(strings.TrimSpace(apiKey), "'")
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	httpClient := &http.Client{
		Timeout:   resendTimeout,
		Transport: statusRecorder{next: http.DefaultTransport},
	}
	client := resend.NewCustomClient(httpClient, apiKey)
	if baseURL != nil {
		client.BaseURL = baseURL
	}
	return &Resend{emails: client.Emails}, nil
}

// The SDK reduces API errors to their message text, so the HTTP status is
// captured on the way through and handed back via the request context.
type statusKey struct{}

type statusRecorder struct {
	next http.RoundTripper
}

func (s statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

// NewResendWithClient creates a Resend transport with a custom client, used for testing.
func NewResendWithClient(emails EmailsAPI) *Resend {
	return &Resend{emails: emails}
}

// Name returns the transport name.
func (p *Resend) Name() string {
	return "resend"
}

// Send delivers msg via the Resend API.
func (p *Resend) Send(ctx context.Context, msg *Message) (string, error) {
	if len(msg.To) == 0 {
		return "", &Error{Name: NameValidation, Message: "no recipients specified"}
	}

	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for _, tag := range msg.Tags {
		params.Tags = append(params.Tags, resend.Tag{Name: tag.Name, Value: tag.Value})
	}

	var status int
	resp, err := p.emails.SendWithContext(context.WithValue(ctx, statusKey{}, &status), params)
	if err != nil {
		return "", classifyResendError(err, status)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Id, nil
}

// classifyResendError turns an SDK error into a structured *Error when the API
// reported one. The HTTP status decides when it was recorded; otherwise the
// message text does. Network failures and anything else that did not come
// from the API are returned unchanged so callers treat them as transport
// exceptions.
func classifyResendError(err error, status int) error {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	name := ""
	switch {
	case status == http.StatusTooManyRequests:
		name = NameRateLimit
	case status == http.StatusInternalServerError:
		name = NameInternal
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		name = NameUnavailable
	case status == http.StatusUnauthorized:
		name = NameInvalidAPIKey
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		name = NameRateLimit
	case strings.Contains(lower, "api key is invalid"), strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "missing api key"):
		name = NameInvalidAPIKey
	case strings.Contains(lower, "not verified"), strings.Contains(lower, "verify a domain"):
		name = NameUnverifiedSender
	case strings.Contains(lower, "internal server error"), strings.Contains(lower, "internal_server_error"),
		strings.Contains(lower, "unexpected error"):
		name = NameInternal
	case strings.Contains(lower, "unavailable"), strings.Contains(lower, "bad gateway"),
		strings.Contains(lower, "gateway timeout"):
		name = NameUnavailable
	case strings.Contains(lower, "validation"), strings.Contains(lower, "invalid"),
		strings.Contains(lower, "missing required"):
		name = NameValidation
	case strings.HasPrefix(msg, "[ERROR]"):
		name = NameApplication
	default:
		return err
	}

	return &Error{Name: name, Message: strings.TrimSpace(strings.TrimPrefix(msg, "[ERROR]:"))}
}
