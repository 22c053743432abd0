package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig holds SMTP relay configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// SMTP delivers email through an SMTP relay (MailHog locally, Gmail or any
// relay in other environments).
type SMTP struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid SMTP port: %q", cfg.Port)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Name returns the transport name.
func (s *SMTP) Name() string {
	return "smtp"
}

// Send delivers msg and returns the generated Message-ID.
func (s *SMTP) Send(ctx context.Context, msg *Message) (string, error) {
	if len(msg.To) == 0 {
		return "", &Error{Name: NameValidation, Message: "no recipients specified"}
	}

	envelopeFrom, err := s.envelopeFrom(msg.From)
	if err != nil {
		return "", &Error{Name: NameValidation, Message: err.Error()}
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)
	raw, err := buildMIMEMessage(msg, id, s.now())
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	if err := s.deliver(ctx, envelopeFrom, recipients, raw); err != nil {
		return "", classifySMTPError(err)
	}
	return id, nil
}

// envelopeFrom picks the SMTP envelope sender. Gmail requires it to match
// the authenticated user.
func (s *SMTP) envelopeFrom(from string) (string, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if strings.Contains(s.cfg.Host, "gmail.com") && s.cfg.User != "" {
		if !strings.EqualFold(addr.Address, s.cfg.User) {
			s.logger.Debug("Gmail: using authenticated user as envelope sender",
				"authenticated_user", s.cfg.User,
				"configured_from", addr.Address,
			)
		}
		return s.cfg.User, nil
	}
	return addr.Address, nil
}

// deliver runs one SMTP session. Port 465 uses implicit TLS; other ports
// upgrade with STARTTLS when the server offers it.
func (s *SMTP) deliver(ctx context.Context, from string, recipients []string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if s.cfg.Port == "465" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if s.cfg.Port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if s.cfg.User != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("Error during SMTP QUIT", "error", err)
	}
	return nil
}

// classifySMTPError maps SMTP reply codes onto provider error names.
// Connection-level failures are returned unchanged.
func classifySMTPError(err error) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return err
	}

	name := NameApplication
	switch {
	case tpErr.Code == 421 || tpErr.Code == 450 || tpErr.Code == 451:
		name = NameUnavailable
	case tpErr.Code == 452:
		name = NameRateLimit
	case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
		name = NameInvalidAPIKey
	case tpErr.Code >= 500:
		name = NameValidation
	}
	return &Error{Name: name, Message: tpErr.Msg}
}

// buildMIMEMessage renders msg as an RFC 5322 message. Messages with both a
// text and an HTML body are sent as multipart/alternative.
func buildMIMEMessage(msg *Message, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, stripLineBreaks(v))
	}
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	for _, tag := range msg.Tags {
		if !isTagName(tag.Name) {
			continue
		}
		header("X-Tag-"+textproto.CanonicalMIMEHeaderKey(tag.Name), tag.Value)
	}
	header("MIME-Version", "1.0")

	switch {
	case msg.Text != "" && msg.HTML != "":
		w := multipart.NewWriter(&buf)
		header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", w.Boundary()))
		buf.WriteString("\r\n")
		for _, part := range []struct{ ctype, body string }{
			{"text/plain; charset=UTF-8", msg.Text},
			{"text/html; charset=UTF-8", msg.HTML},
		} {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Type", part.ctype)
			h.Set("Content-Transfer-Encoding", "8bit")
			pw, err := w.CreatePart(h)
			if err != nil {
				return nil, fmt.Errorf("failed to create body part: %w", err)
			}
			if _, err := pw.Write([]byte(part.body)); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case msg.HTML != "":
		header("Content-Type", "text/html; charset=UTF-8")
		header("Content-Transfer-Encoding", "8bit")
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTML)
	default:
		header("Content-Type", "text/plain; charset=UTF-8")
		header("Content-Transfer-Encoding", "8bit")
		buf.WriteString("\r\n")
		buf.WriteString(msg.Text)
	}

	return buf.Bytes(), nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// stripLineBreaks folds CR and LF into spaces so a value cannot start a new
// header line.
func stripLineBreaks(v string) string {
	return lineBreaks.Replace(v)
}

// isTagName reports whether name is usable in an X-Tag- header: ASCII
// letters, digits, underscores and dashes only.
func isTagName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
