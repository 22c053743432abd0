// Package config provides configuration loading and validation for the mailer service.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables (a .env file in the working directory is loaded into
// the environment first and never overrides variables already set).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mailer/internal/sender/email"
	"mailer/internal/sender/email/provider"
	"mailer/internal/sender/payload"
	"mailer/internal/sender/retry"
	"mailer/internal/sender/validation"
)

// Config holds all configuration parameters for the mailer service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Email    EmailConfig    `yaml:"email"`
	Retry    RetryConfig    `yaml:"retry"`
	Async    AsyncConfig    `yaml:"async"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig identifies the application in messages and selects the runtime mode.
type AppConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Env  string `yaml:"env"`
}

// EmailConfig holds provider credentials and sender identity.
type EmailConfig struct {
	Provider    string        `yaml:"provider"`
	Fallback    []string      `yaml:"fallback"`
	APIKey      string        `yaml:"api_key"`
	FromAddress string        `yaml:"from_address"`
	FromName    string        `yaml:"from_name"`
	ReplyTo     string        `yaml:"reply_to"`
	SES         SESConfig     `yaml:"ses"`
	SMTP        SMTPConfig    `yaml:"smtp"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// SESConfig holds Amazon SES credentials.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// BreakerConfig configures the per-transport circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Timeout             time.Duration `yaml:"timeout"`
}

// RetryConfig configures the default retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// AsyncConfig configures the background send dispatcher.
type AsyncConfig struct {
	MaxInFlight  int64         `yaml:"max_in_flight"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures how the HTTP handlers trust the upstream gateway.
type AuthConfig struct {
	AdminEmails []string `yaml:"admin_emails"`
}

// AlertsConfig configures failure alert webhooks. Empty URLs disable them.
type AlertsConfig struct {
	WebhookURL      string `yaml:"webhook_url"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// KafkaConfig configures the optional email request consumer. An empty
// Brokers disables it.
type KafkaConfig struct {
	Brokers         string `yaml:"brokers"`
	Topic           string `yaml:"topic"`
	GroupID         string `yaml:"group_id"`
	DeadLetterTopic string `yaml:"dead_letter_topic"`
	Workers         int    `yaml:"workers"`
}

// PostgresConfig configures the optional event store. An empty DSN disables it.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	EventBuffer int    `yaml:"event_buffer"`
}

// RedisConfig configures the optional metrics snapshot publisher. An empty
// Addr disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: payload.DefaultBranding.AppName,
			URL:  payload.DefaultBranding.AppURL,
			Env:  "production",
		},
		Email: EmailConfig{
			Provider:    email.ProviderResend,
			FromAddress: "noreply@example.com",
			FromName:    payload.DefaultBranding.AppName,
			SES:         SESConfig{Region: "us-east-1"},
			SMTP:        SMTPConfig{Port: "587"},
			Breaker: BreakerConfig{
				ConsecutiveFailures: provider.DefaultBreakerConfig().ConsecutiveFailures,
				Timeout:             provider.DefaultBreakerConfig().Timeout,
			},
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
		},
		Async: AsyncConfig{
			MaxInFlight:  64,
			DrainTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:   "email.requests",
			GroupID: "mailer-group",
			Workers: 10,
		},
		Postgres: PostgresConfig{EventBuffer: 1024},
		Redis:    RedisConfig{ReportInterval: 30 * time.Second},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), the .env file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.App.Name, "APP_NAME")
	setString(&c.App.URL, "APP_URL")
	setString(&c.App.Env, "APP_ENV")

	setString(&c.Email.Provider, "EMAIL_PROVIDER")
	if v := os.Getenv("EMAIL_FALLBACK"); v != "" {
		c.Email.Fallback = splitList(v)
	}
	setString(&c.Email.APIKey, "RESEND_API_KEY")
	setString(&c.Email.FromAddress, "EMAIL_FROM_ADDRESS")
	setString(&c.Email.FromName, "EMAIL_FROM_NAME")
	setString(&c.Email.ReplyTo, "EMAIL_REPLY_TO")
	setString(&c.Email.SES.Region, "AWS_REGION")
	setString(&c.Email.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Email.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Email.SMTP.Host, "SMTP_HOST")
	setString(&c.Email.SMTP.Port, "SMTP_PORT")
	setString(&c.Email.SMTP.User, "SMTP_USER")
	setString(&c.Email.SMTP.Password, "SMTP_PASSWORD")

	setString(&c.HTTP.Port, "HTTP_PORT")
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		c.Auth.AdminEmails = splitList(v)
	}
	setString(&c.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")
	setString(&c.Alerts.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	setString(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&c.Kafka.DeadLetterTopic, "KAFKA_DEAD_LETTER_TOPIC")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	var errs []error
	errs = append(errs,
		setBool(&c.Email.Breaker.Enabled, "EMAIL_BREAKER_ENABLED"),
		setInt(&c.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS"),
		setDuration(&c.Retry.BaseDelay, "RETRY_BASE_DELAY"),
		setDuration(&c.Retry.MaxDelay, "RETRY_MAX_DELAY"),
		setInt(&c.Kafka.Workers, "KAFKA_WORKERS"),
		setDuration(&c.Redis.ReportInterval, "REDIS_REPORT_INTERVAL"),
	)
	return errors.Join(errs...)
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if !validation.IsValidURL(c.App.URL) {
		return fmt.Errorf("app.url must be an http or https URL: %q", c.App.URL)
	}

	known := []string{email.ProviderResend, email.ProviderSES, email.ProviderSMTP}
	if !slices.Contains(known, strings.ToLower(c.Email.Provider)) {
		return fmt.Errorf("email.provider must be one of %s", strings.Join(known, ", "))
	}
	for _, name := range c.Email.Fallback {
		if !slices.Contains(known, strings.ToLower(name)) {
			return fmt.Errorf("email.fallback contains unknown provider %q", name)
		}
	}
	if !validation.IsValidEmail(c.Email.FromAddress) {
		return fmt.Errorf("email.from_address is not a valid address: %q", c.Email.FromAddress)
	}
	if c.Email.ReplyTo != "" && !validation.IsValidEmail(c.Email.ReplyTo) {
		return fmt.Errorf("email.reply_to is not a valid address: %q", c.Email.ReplyTo)
	}

	if _, err := c.RetryPolicy(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if port, err := strconv.Atoi(c.HTTP.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535: %q", c.HTTP.Port)
	}

	if c.Redis.Addr != "" && c.Redis.ReportInterval <= 0 {
		return fmt.Errorf("redis.report_interval must be positive")
	}

	if c.Alerts.WebhookURL != "" && !validation.IsValidURL(c.Alerts.WebhookURL) {
		return fmt.Errorf("alerts.webhook_url must be an http or https URL")
	}
	if c.Alerts.SlackWebhookURL != "" && !strings.HasPrefix(c.Alerts.SlackWebhookURL, "https://") {
		return fmt.Errorf("alerts.slack_webhook_url must be an https URL")
	}

	if c.KafkaEnabled() {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic cannot be empty")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id cannot be empty")
		}
		if c.Kafka.Workers < 1 {
			return fmt.Errorf("kafka.workers must be at least 1")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error: %q", c.Logging.Level)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Env, email.EnvDevelopment)
}

// KafkaEnabled reports whether the email request consumer should run.
func (c *Config) KafkaEnabled() bool {
	return c.Kafka.Brokers != ""
}

// RetryPolicy builds the default retry policy.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	return retry.NewPolicy(c.Retry.MaxAttempts, c.Retry.BaseDelay, c.Retry.MaxDelay)
}

// Branding returns the application identity used in message content.
func (c *Config) Branding() payload.Branding {
	return payload.Branding{AppName: c.App.Name, AppURL: c.App.URL}
}

// EmailClientConfig maps the email section onto the delivery client configuration.
func (c *Config) EmailClientConfig() email.Config {
	cfg := email.Config{
		Provider:    c.Email.Provider,
		Fallback:    c.Email.Fallback,
		APIKey:      c.Email.APIKey,
		FromAddress: c.Email.FromAddress,
		FromName:    c.Email.FromName,
		ReplyTo:     c.Email.ReplyTo,
		Environment: c.App.Env,
		SES: provider.SESConfig{
			Region:          c.Email.SES.Region,
			AccessKeyID:     c.Email.SES.AccessKeyID,
			SecretAccessKey: c.Email.SES.SecretAccessKey,
		},
		SMTP: provider.SMTPConfig{
			Host:     c.Email.SMTP.Host,
			Port:     c.Email.SMTP.Port,
			User:     c.Email.SMTP.User,
			Password: c.Email.SMTP.Password,
		},
	}
	if c.Email.Breaker.Enabled {
		b := provider.DefaultBreakerConfig()
		if c.Email.Breaker.ConsecutiveFailures > 0 {
			b.ConsecutiveFailures = c.Email.Breaker.ConsecutiveFailures
		}
		if c.Email.Breaker.Timeout > 0 {
			b.Timeout = c.Email.Breaker.Timeout
		}
		cfg.Breaker = &b
	}
	return cfg
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration such as 1s: %q", key, v)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %q", key, v)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
