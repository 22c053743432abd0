// Package events defines the event structures for the email.requests and email.dead-letter topics.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the version written by producers of EmailRequested.
const SchemaVersion = 1

// Tag is a name/value pair forwarded to the provider.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmailRequested asks the mailer to deliver one email. Either Template or
// Subject plus a body must be set; Template wins when both are present.
type EmailRequested struct {
	RequestID     string         `json:"request_id"`
	EmailType     string         `json:"email_type"`
	To            []string       `json:"to"`
	Cc            []string       `json:"cc,omitempty"`
	Bcc           []string       `json:"bcc,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Text          string         `json:"text,omitempty"`
	HTML          string         `json:"html,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	Tags          []Tag          `json:"tags,omitempty"`
	Template      string         `json:"template,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	SchemaVersion int            `json:"schema_version"`
}

// Validate checks the fields every request needs.
func (e *EmailRequested) Validate() error {
	if len(e.To) == 0 {
		return errors.New("to cannot be empty")
	}
	if hasLineBreak(e.ReplyTo) {
		return errors.New("reply_to must not contain line breaks")
	}
	for _, tag := range e.Tags {
		if tag.Name == "" {
			return errors.New("tag name cannot be empty")
		}
		if hasLineBreak(tag.Name) || hasLineBreak(tag.Value) {
			return fmt.Errorf("tag %q must not contain line breaks", tag.Name)
		}
	}
	if e.Template != "" {
		return nil
	}
	if e.Subject == "" {
		return errors.New("subject is required without a template")
	}
	if e.Text == "" && e.HTML == "" {
		return errors.New("text or html is required without a template")
	}
	return nil
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// EmailDeadLettered records a request that ended in a terminal failure.
type EmailDeadLettered struct {
	Request      EmailRequested `json:"request"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	FailedAt     time.Time      `json:"failed_at"`
}

// Key returns the partition key for a request: its id, else its email type.
func (e *EmailRequested) Key() string {
	if e.RequestID != "" {
		return e.RequestID
	}
	return e.EmailType
}
