// Package payload composes transactional email requests from built-in templates.
package payload

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"mailer/internal/sender/email"
)

// Template names a built-in message template.
type Template string

const (
	TemplateWelcome       Template = "welcome"
	TemplatePasswordReset Template = "password-reset"
	TemplateVerifyEmail   Template = "verify-email"
)

// CodeTemplateError is the failure code of a message that could not be rendered.
const CodeTemplateError = "TEMPLATE_ERROR"

// Templates lists every built-in template.
var Templates = []Template{TemplateWelcome, TemplatePasswordReset, TemplateVerifyEmail}

// ParseTemplate validates a template name.
func ParseTemplate(s string) (Template, error) {
	for _, t := range Templates {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown template %q", s)
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl"))
	htmlTemplates = parseHTML()
)

func parseHTML() map[Template]*htmltemplate.Template {
	set := make(map[Template]*htmltemplate.Template, len(Templates))
	for _, t := range Templates {
		set[t] = htmltemplate.Must(htmltemplate.ParseFS(templateFS,
			"templates/layout.html.tmpl",
			"templates/"+string(t)+".html.tmpl",
		))
	}
	return set
}

// Branding identifies the application in message content.
type Branding struct {
	AppName string
	AppURL  string
}

// DefaultBranding is used when a field of Branding is empty.
var DefaultBranding = Branding{AppName: "VT SaaS Template", AppURL: "http://localhost:3000"}

func (b Branding) withDefaults() Branding {
	if b.AppName == "" {
		b.AppName = DefaultBranding.AppName
	}
	if b.AppURL == "" {
		b.AppURL = DefaultBranding.AppURL
	}
	b.AppURL = strings.TrimRight(b.AppURL, "/")
	return b
}

// Recipient is the addressee of a composed message.
type Recipient struct {
	Email string
	Name  string // Optional, used in the greeting
}

// LinkData carries the action link of password-reset and verification messages.
type LinkData struct {
	Recipient
	ActionURL string
	ExpiresIn time.Duration // Zero renders as 24 hours
}

// view is the data every template renders.
type view struct {
	Subject   string
	AppName   string
	AppURL    string
	Greeting  string
	ActionURL string
	ExpiresIn string
	Footer    string
}

// Welcome builds the welcome message sent after sign-up.
func Welcome(r Recipient, b Branding) (email.Request, error) {
	b = b.withDefaults()
	v := newView(r, b, fmt.Sprintf("Welcome to %s!", b.AppName))
	v.ActionURL = b.AppURL + "/dashboard"
	v.Footer = fmt.Sprintf("You're receiving this because you signed up for %s.", b.AppName)
	return render(TemplateWelcome, r, v)
}

// PasswordReset builds the password-reset message.
func PasswordReset(d LinkData, b Branding) (email.Request, error) {
	b = b.withDefaults()
	v := newView(d.Recipient, b, fmt.Sprintf("Reset your %s password", b.AppName))
	v.ActionURL = d.ActionURL
	v.ExpiresIn = humanDuration(d.ExpiresIn)
	v.Footer = fmt.Sprintf("You're receiving this because a password reset was requested for your %s account.", b.AppName)
	return render(TemplatePasswordReset, d.Recipient, v)
}

// VerifyEmail builds the address-verification message.
func VerifyEmail(d LinkData, b Branding) (email.Request, error) {
	b = b.withDefaults()
	v := newView(d.Recipient, b, fmt.Sprintf("Confirm your email for %s", b.AppName))
	v.ActionURL = d.ActionURL
	v.ExpiresIn = humanDuration(d.ExpiresIn)
	v.Footer = fmt.Sprintf("You're receiving this because you signed up for %s.", b.AppName)
	return render(TemplateVerifyEmail, d.Recipient, v)
}

// Compose renders template t for to from loosely typed data, as carried by
// queued requests and admin test sends. Optional data keys: "name", "url" and
// "expiresInHours".
func Compose(t Template, to string, data map[string]any, b Branding) (email.Request, error) {
	r := Recipient{Email: to, Name: stringField(data, "name")}
	link := LinkData{Recipient: r, ActionURL: stringField(data, "url")}
	if hours, ok := data["expiresInHours"].(float64); ok && hours > 0 {
		link.ExpiresIn = time.Duration(hours * float64(time.Hour))
	}

	b = b.withDefaults()
	if link.ActionURL == "" {
		link.ActionURL = b.AppURL + "/dashboard"
	}

	switch t {
	case TemplateWelcome:
		return Welcome(r, b)
	case TemplatePasswordReset:
		return PasswordReset(link, b)
	case TemplateVerifyEmail:
		return VerifyEmail(link, b)
	default:
		return email.Request{}, fmt.Errorf("unknown template %q", t)
	}
}

// AdminTest composes template t for an administrator's test send. The subject
// is prefixed with [TEST] and a test=true tag is added.
func AdminTest(t Template, to string, data map[string]any, b Branding) (email.Request, error) {
	req, err := Compose(t, to, data, b)
	if err != nil {
		return email.Request{}, err
	}
	req.Subject = "[TEST] " + req.Subject
	req.Tags = append(req.Tags, email.Tag{Name: "test", Value: "true"})
	return req, nil
}

// Sender delivers a composed message. *email.Client implements it.
type Sender interface {
	Send(ctx context.Context, req email.Request, opts ...email.SendOption) email.Result
}

// SendWelcome composes and sends the welcome message with c.
func SendWelcome(ctx context.Context, c Sender, to, name string, b Branding) email.Result {
	req, err := Welcome(Recipient{Email: to, Name: name}, b)
	if err != nil {
		return email.Failed(err.Error(), CodeTemplateError)
	}
	return c.Send(ctx, req, email.WithEmailType(string(TemplateWelcome)))
}

func newView(r Recipient, b Branding, subject string) view {
	greeting := "Hi there"
	if r.Name != "" {
		greeting = "Hi " + r.Name
	}
	return view{
		Subject:  subject,
		AppName:  b.AppName,
		AppURL:   b.AppURL,
		Greeting: greeting,
	}
}

func render(t Template, r Recipient, v view) (email.Request, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, string(t)+".txt.tmpl", v); err != nil {
		return email.Request{}, fmt.Errorf("failed to render %s text: %w", t, err)
	}
	if err := htmlTemplates[t].ExecuteTemplate(&html, "layout", v); err != nil {
		return email.Request{}, fmt.Errorf("failed to render %s html: %w", t, err)
	}
	return email.Request{
		To:      []string{r.Email},
		Subject: v.Subject,
		Text:    text.String(),
		HTML:    html.String(),
		Tags:    []email.Tag{{Name: "type", Value: string(t)}},
	}, nil
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		d = 24 * time.Hour
	}
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
