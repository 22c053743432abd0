// Package slack formats delivery failure alerts for Slack Incoming Webhooks.
package slack

import (
	"fmt"
	"strings"

	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/webhook"
)

// Message is an Incoming Webhook body.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Block is a Slack layout block.
type Block struct {
	Type   string `json:"type"`
	Text   *Text  `json:"text,omitempty"`
	Fields []Text `json:"fields,omitempty"`
}

// Text is a Slack text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MaskURL masks the secret path of a webhook URL for logging.
func MaskURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}

// Format returns a formatter rendering events as Slack messages for appName.
func Format(appName string) webhook.Formatter {
	return func(e emaillog.Event) any {
		return BuildMessage(appName, e)
	}
}

// BuildMessage renders one failure event. The fallback text carries the
// essentials for notifications; the blocks add detail.
func BuildMessage(appName string, e emaillog.Event) Message {
	title := fmt.Sprintf(":rotating_light: %s email delivery failed: %s", appName, e.EmailType)
	if e.Type == emaillog.EventAsyncException {
		title = fmt.Sprintf(":rotating_light: %s background email crashed: %s", appName, e.EmailType)
	}

	fields := []Text{
		{Type: "mrkdwn", Text: "*Email type:*\n" + orDash(e.EmailType)},
		{Type: "mrkdwn", Text: "*Recipient:*\n" + orDash(e.Recipient)},
		{Type: "mrkdwn", Text: "*Error code:*\n" + orDash(e.ErrorCode)},
	}
	if e.TotalAttempts > 0 {
		fields = append(fields, Text{Type: "mrkdwn", Text: fmt.Sprintf("*Attempts:*\n%d", e.TotalAttempts)})
	}

	blocks := []Block{
		{Type: "header", Text: &Text{Type: "plain_text", Text: strings.TrimPrefix(title, ":rotating_light: ")}},
		{Type: "section", Fields: fields},
	}
	if e.ErrorMessage != "" {
		blocks = append(blocks, Block{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: "```" + e.ErrorMessage + "```"},
		})
	}

	return Message{Text: title, Blocks: blocks}
}

// NewNotifier creates a webhook notifier that posts Slack-formatted alerts.
func NewNotifier(url, appName string, opts ...webhook.Option) (*webhook.Notifier, error) {
	if !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid Slack webhook URL %q: Slack webhook URLs start with https://hooks.slack.com/services/", MaskURL(url))
	}
	opts = append(opts, webhook.WithName("slack"), webhook.WithFormatter(Format(appName)))
	return webhook.NewNotifier(url, appName, opts...)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
