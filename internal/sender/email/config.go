package email

import (
	"fmt"
	"strings"

	"mailer/internal/sender/email/provider"
)

// Provider names accepted in Config.Provider.
const (
	ProviderResend = "resend"
	ProviderSES    = "ses"
	ProviderSMTP   = "smtp"
)

// EnvDevelopment is the runtime mode in which unconfigured sends go to the console.
const EnvDevelopment = "development"

// Config is the provider configuration read once at client construction.
type Config struct {
	Provider    string   // resend (default), ses or smtp
	Fallback    []string // Transports tried when the primary fails with a transport exception
	APIKey      string   // Resend API key
	FromAddress string
	FromName    string
	ReplyTo     string // Default reply-to, overridden per request
	Environment string // "development" enables the console path when unconfigured

	SES     provider.SESConfig
	SMTP    provider.SMTPConfig
	Breaker *provider.BreakerConfig // nil disables the circuit breaker
}

// Sender formats the sender identity as "<FromName> <FromAddress>".
// Without a name the bare address is used.
func (c Config) Sender() string {
	if c.FromName == "" {
		return c.FromAddress
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromAddress)
}

// IsDevelopment reports whether the runtime mode is development.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// providerName returns the configured provider, defaulting to resend.
func (c Config) providerName() string {
	if c.Provider == "" {
		return ProviderResend
	}
	return strings.ToLower(c.Provider)
}

// hasCredentials reports whether the named provider has what it needs to send.
func (c Config) hasCredentials(name string) bool {
	switch name {
	case ProviderResend:
		return c.APIKey != ""
	case ProviderSES:
		return c.SES.AccessKeyID != "" && c.SES.SecretAccessKey != ""
	case ProviderSMTP:
		return c.SMTP.Host != ""
	default:
		return false
	}
}
