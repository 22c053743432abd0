package email

import (
	"mailer/internal/sender/email/provider"
	"mailer/internal/sender/retry"
)

// Tag is a name/value pair attached to a message for provider-side analytics.
type Tag = provider.Tag

// Request describes one email to send. The client copies the slices before
// handing them to a transport, so callers may reuse a Request.
type Request struct {
	To      []string
	Subject string
	Text    string
	HTML    string
	ReplyTo string // Overrides the configured default reply-to
	Cc      []string
	Bcc     []string
	Tags    []Tag
}

// Success is the payload of a delivered email.
type Success struct {
	MessageID string
}

// Failure is the payload of an email that could not be delivered.
type Failure struct {
	Error string
	Code  string
}

// Result is the outcome of a send: exactly one of Success or Failure.
// The zero Result is a Failure with code UNKNOWN_ERROR.
type Result struct {
	ok      bool
	success Success
	failure Failure
}

// Succeeded builds a successful result. An empty id is recorded as "unknown".
func Succeeded(messageID string) Result {
	if messageID == "" {
		messageID = "unknown"
	}
	return Result{ok: true, success: Success{MessageID: messageID}}
}

// Failed builds a failed result. An empty code is recorded as UNKNOWN_ERROR.
func Failed(msg, code string) Result {
	if code == "" {
		code = retry.CodeUnknown
	}
	return Result{failure: Failure{Error: msg, Code: code}}
}

// OK reports whether the email was delivered.
func (r Result) OK() bool {
	return r.ok
}

// Success returns the success payload and true when the send succeeded.
func (r Result) Success() (Success, bool) {
	return r.success, r.ok
}

// Failure returns the failure payload and true when the send failed.
func (r Result) Failure() (Failure, bool) {
	if r.ok {
		return Failure{}, false
	}
	f := r.failure
	if f.Code == "" {
		f.Code = retry.CodeUnknown
	}
	return f, true
}

// MessageID returns the provider message id, or "" for failures.
func (r Result) MessageID() string {
	return r.success.MessageID
}

// Code returns the failure code, or "" for successes.
func (r Result) Code() string {
	f, _ := r.Failure()
	return f.Code
}

// ErrorMessage returns the failure message, or "" for successes.
func (r Result) ErrorMessage() string {
	f, _ := r.Failure()
	return f.Error
}
