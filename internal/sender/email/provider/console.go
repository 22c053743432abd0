package provider

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	consoleWidth   = 60
	devIDSuffixLen = 8
	devIDAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Console writes a human-readable summary of each message to a writer instead
// of delivering it. Body text is never printed; only its size is reported.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole creates a console transport writing to out (stdout when nil).
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, now: time.Now}
}

// Name returns the transport name.
func (c *Console) Name() string {
	return "console"
}

// Send prints the message summary and returns a synthetic id of the form
// dev_<unix millis>_<lowercase alphanumerics>. It never touches the network.
func (c *Console) Send(_ context.Context, msg *Message) (string, error) {
	category := msg.Category
	if category == "" {
		category = "generic"
	}

	var b strings.Builder
	rule := strings.Repeat("=", consoleWidth)
	fmt.Fprintf(&b, "\n%s\nEMAIL (DEV MODE - NOT SENT)\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Type:     %s\n", category)
	fmt.Fprintf(&b, "From:     %s\n", msg.From)
	fmt.Fprintf(&b, "To:       %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject:  %s\n", msg.Subject)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "CC:       %s\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "BCC:      %s\n", strings.Join(msg.Bcc, ", "))
	}
	b.WriteString(strings.Repeat("-", consoleWidth) + "\n")
	if msg.Text != "" {
		fmt.Fprintf(&b, "CONTENT (Plain Text): [%d characters]\n", len([]rune(msg.Text)))
	}
	if msg.HTML != "" {
		b.WriteString("CONTENT (HTML): [HTML content truncated]\n")
	}
	fmt.Fprintf(&b, "%s\n\n", rule)

	c.mu.Lock()
	// The summary is informational; a write error does not fail the send.
	_, _ = io.WriteString(c.out, b.String())
	now := c.now()
	c.mu.Unlock()

	return DevMessageID(now), nil
}

// DevMessageID builds a synthetic message id for messages that were not sent.
func DevMessageID(now time.Time) string {
	suffix := make([]byte, devIDSuffixLen)
	for i := range suffix {
		suffix[i] = devIDAlphabet[rand.IntN(len(devIDAlphabet))]
	}
	return fmt.Sprintf("dev_%d_%s", now.UnixMilli(), suffix)
}
