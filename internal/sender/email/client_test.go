package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"mailer/internal/metrics"
	"mailer/internal/sender/email/provider"
	"mailer/internal/sender/emaillog"
	"mailer/internal/sender/retry"
)

// scriptedTransport returns the scripted outcomes in order, repeating the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	outcomes []func() (string, error)
	calls    int
	messages []*provider.Message
}

func (s *scriptedTransport) Name() string { return "fake" }

func (s *scriptedTransport) Send(_ context.Context, msg *provider.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[i]()
}

func ok(id string) func() (string, error) {
	return func() (string, error) { return id, nil }
}

func providerErr(name string) func() (string, error) {
	return func() (string, error) { return "", &provider.Error{Name: name, Message: name + " happened"} }
}

// eventSink captures logged delivery events.
type eventSink struct {
	mu     sync.Mutex
	events []emaillog.Event
}

func (s *eventSink) Write(_ context.Context, e emaillog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) count(t emaillog.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (s *eventSink) last() emaillog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(t *testing.T) retry.Policy {
	t.Helper()
	p, err := retry.NewPolicy(3, time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	return p
}

func testConfig() Config {
	return Config{
		APIKey:      "re_test",
		FromAddress: "noreply@example.com",
		FromName:    "Example App",
		ReplyTo:     "support@example.com",
		Environment: "production",
	}
}

func newTestClient(t *testing.T, cfg Config, transport provider.Transport) (*Client, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	opts := []Option{
		WithLogger(quietLogger()),
		WithEventLogger(emaillog.New(quietLogger(), sink)),
		WithPolicy(fastPolicy(t)),
	}
	if transport != nil {
		opts = append(opts, WithTransport(transport))
	}
	c, err := NewClient(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, sink
}

func basicRequest() Request {
	return Request{To: []string{"a@b.com"}, Subject: "S", Text: "B"}
}

func TestSend_FirstAttemptSuccess(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){ok("msg_1")}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest())

	success, isSuccess := res.Success()
	if !isSuccess || success.MessageID != "msg_1" {
		t.Fatalf("Send() = %+v, want Success{msg_1}", res)
	}
	if transport.calls != 1 {
		t.Errorf("transport calls = %d, want 1", transport.calls)
	}
	if sink.count(emaillog.EventSent) != 1 || len(sink.events) != 1 {
		t.Errorf("events = %+v, want exactly one email_sent", sink.events)
	}
	if e := sink.last(); e.Recipient != "a***@b.com" || e.EmailType != "generic" {
		t.Errorf("sent event = %+v", e)
	}
}

func TestSend_RetryThenSucceed(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){
		providerErr(retry.CodeRateLimitExceeded),
		ok("msg_2"),
	}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest(), WithEmailType("welcome"))

	if !res.OK() || res.MessageID() != "msg_2" {
		t.Fatalf("Send() = %+v, want success msg_2", res)
	}
	if transport.calls != 2 {
		t.Errorf("transport calls = %d, want 2", transport.calls)
	}
	if sink.count(emaillog.EventRetry) != 1 || sink.count(emaillog.EventSent) != 1 {
		t.Errorf("events = %+v, want 1 retry + 1 sent", sink.events)
	}
	if sink.events[0].Type != emaillog.EventRetry || sink.events[1].Type != emaillog.EventSent {
		t.Errorf("event order = %s, %s", sink.events[0].Type, sink.events[1].Type)
	}
	if sink.events[0].ErrorCode != retry.CodeRateLimitExceeded || sink.events[0].Attempt != 1 {
		t.Errorf("retry event = %+v", sink.events[0])
	}
}

func TestSend_RetriesExhausted(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){providerErr(retry.CodeRateLimitExceeded)}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest())

	failure, isFailure := res.Failure()
	if !isFailure || failure.Code != retry.CodeRateLimitExceeded {
		t.Fatalf("Send() = %+v, want Failure{rate_limit_exceeded}", res)
	}
	if transport.calls != 3 {
		t.Errorf("transport calls = %d, want 3", transport.calls)
	}
	if sink.count(emaillog.EventRetry) != 2 || sink.count(emaillog.EventFailed) != 1 {
		t.Errorf("events = %+v, want 2 retry + 1 failed", sink.events)
	}
	if e := sink.last(); e.Attempt != 3 || e.ErrorMessage == "" {
		t.Errorf("failed event = %+v", e)
	}
}

func TestSend_NonRetryableShortCircuit(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){providerErr(retry.CodeValidationError)}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest())

	if res.OK() || res.Code() != retry.CodeValidationError {
		t.Fatalf("Send() = %+v, want validation_error failure", res)
	}
	if transport.calls != 1 {
		t.Errorf("transport calls = %d, want 1", transport.calls)
	}
	if sink.count(emaillog.EventRetry) != 0 || sink.count(emaillog.EventFailed) != 1 {
		t.Errorf("events = %+v, want 0 retry + 1 failed", sink.events)
	}
}

func TestSend_TransportExceptionIsRetried(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){
		func() (string, error) { return "", errors.New("connection reset by peer") },
		ok("msg_3"),
	}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest())

	if !res.OK() {
		t.Fatalf("Send() = %+v, want success after retry", res)
	}
	if sink.events[0].ErrorCode != retry.CodeSendException {
		t.Errorf("retry event code = %q, want SEND_EXCEPTION", sink.events[0].ErrorCode)
	}
}

func TestSend_PanicBecomesSendException(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){
		func() (string, error) { panic("transport exploded") },
	}}
	c, _ := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest(), WithoutRetry())

	if res.Code() != retry.CodeSendException || res.ErrorMessage() != "transport exploded" {
		t.Errorf("Send() = %+v, want SEND_EXCEPTION with panic message", res)
	}
	if transport.calls != 1 {
		t.Errorf("transport calls = %d, want 1", transport.calls)
	}
}

func TestSend_WithoutRetrySingleAttempt(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){providerErr(retry.CodeRateLimitExceeded)}}
	c, sink := newTestClient(t, testConfig(), transport)

	res := c.Send(context.Background(), basicRequest(), WithoutRetry())

	if res.OK() {
		t.Fatal("Send() should fail")
	}
	if transport.calls != 1 {
		t.Errorf("transport calls = %d, want 1", transport.calls)
	}
	if sink.count(emaillog.EventRetry) != 0 {
		t.Errorf("retry events = %d, want 0", sink.count(emaillog.EventRetry))
	}
}

func TestSend_WithoutRetrySkipsRetryLoop(t *testing.T) {
	var logs bytes.Buffer
	sink := &eventSink{}
	transport := &scriptedTransport{outcomes: []func() (string, error){providerErr(retry.CodeInternalServerError)}}
	c, err := NewClient(context.Background(), testConfig(),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithEventLogger(emaillog.New(quietLogger(), sink)),
		WithPolicy(fastPolicy(t)),
		WithTransport(transport),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	res := c.Send(context.Background(), basicRequest(), WithoutRetry())

	if res.Code() != retry.CodeInternalServerError {
		t.Errorf("Code() = %q, want %q", res.Code(), retry.CodeInternalServerError)
	}
	if transport.calls != 1 {
		t.Errorf("transport calls = %d, want 1", transport.calls)
	}
	if strings.Contains(logs.String(), "retry_exhausted") || strings.Contains(logs.String(), "retry attempts") {
		t.Errorf("single-attempt send logged retry output:\n%s", logs.String())
	}
	failed := sink.last()
	if failed.Type != emaillog.EventFailed || failed.Attempt != 1 || failed.TotalAttempts != 1 {
		t.Errorf("failed event = %+v, want attempt 1 of 1", failed)
	}
}

func TestSend_WithRetryPolicy(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){providerErr(retry.CodeRateLimitExceeded)}}
	c, _ := newTestClient(t, testConfig(), transport)

	p := fastPolicy(t).WithMaxAttempts(5)
	c.Send(context.Background(), basicRequest(), WithRetryPolicy(p))

	if transport.calls != 5 {
		t.Errorf("transport calls = %d, want 5", transport.calls)
	}
}

func TestSend_MapsMessage(t *testing.T) {
	tests := []struct {
		name        string
		reqReplyTo  string
		wantReplyTo string
	}{
		{name: "request reply-to wins", reqReplyTo: "custom-reply@example.com", wantReplyTo: "custom-reply@example.com"},
		{name: "config default", reqReplyTo: "", wantReplyTo: "support@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{outcomes: []func() (string, error){ok("id")}}
			c, _ := newTestClient(t, testConfig(), transport)

			req := Request{
				To:      []string{"a@b.com"},
				Cc:      []string{"c@b.com"},
				Subject: "Hi",
				HTML:    "<p>Hi</p>",
				ReplyTo: tt.reqReplyTo,
				Tags:    []Tag{{Name: "type", Value: "welcome"}},
			}
			c.Send(context.Background(), req, WithEmailType("welcome"))

			msg := transport.messages[0]
			if msg.From != "Example App <noreply@example.com>" {
				t.Errorf("From = %q", msg.From)
			}
			if msg.ReplyTo != tt.wantReplyTo {
				t.Errorf("ReplyTo = %q, want %q", msg.ReplyTo, tt.wantReplyTo)
			}
			if msg.Category != "welcome" || len(msg.Tags) != 1 || len(msg.Cc) != 1 {
				t.Errorf("message = %+v", msg)
			}

			// The transport gets its own copy of the slices.
			req.To[0] = "mutated@b.com"
			if msg.To[0] != "a@b.com" {
				t.Error("message shares the request's recipient slice")
			}
		})
	}
}

func TestSend_DevModeConsole(t *testing.T) {
	var console bytes.Buffer
	cfg := testConfig()
	cfg.APIKey = ""
	cfg.Environment = "development"

	sink := &eventSink{}
	c, err := NewClient(context.Background(), cfg,
		WithLogger(quietLogger()),
		WithEventLogger(emaillog.New(quietLogger(), sink)),
		WithConsole(&console),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Mode() != ModeConsole {
		t.Fatalf("Mode() = %v, want console", c.Mode())
	}

	pattern := regexp.MustCompile(`^dev_\d+_[a-z0-9]+$`)
	for i := 0; i < 5; i++ {
		res := c.Send(context.Background(), Request{
			To:      []string{"john.doe@example.com"},
			Subject: "Verify",
			Text:    "your code is 424242",
		}, WithEmailType("verify-email"))

		if !res.OK() || !pattern.MatchString(res.MessageID()) {
			t.Fatalf("Send() = %+v, want dev success", res)
		}
	}

	if sink.count(emaillog.EventDevMode) != 5 || len(sink.events) != 5 {
		t.Errorf("events = %+v, want 5 email_dev_mode", sink.events)
	}
	if e := sink.last(); e.Recipient != "jo***@example.com" || e.Status != emaillog.StatusDevMode {
		t.Errorf("dev event = %+v", e)
	}
	out := console.String()
	if !strings.Contains(out, "john.doe@example.com") || !strings.Contains(out, "verify-email") {
		t.Errorf("console output missing recipient or type:\n%s", out)
	}
	if strings.Contains(out, "424242") {
		t.Errorf("console output leaks body:\n%s", out)
	}
}

func TestSend_DisabledOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""

	c, sink := newTestClient(t, cfg, nil)
	if c.Mode() != ModeDisabled {
		t.Fatalf("Mode() = %v, want disabled", c.Mode())
	}

	res := c.Send(context.Background(), basicRequest())

	if res.OK() || res.Code() != retry.CodeAPIKeyMissing {
		t.Errorf("Send() = %+v, want API_KEY_MISSING", res)
	}
	if sink.count(emaillog.EventFailed) != 1 {
		t.Errorf("events = %+v, want one email_failed", sink.events)
	}
}

func TestNewClient_ProviderModeFromCredentials(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantMode Mode
		wantName string
	}{
		{name: "resend key", cfg: Config{APIKey: "re_x"}, wantMode: ModeProvider, wantName: "resend"},
		{name: "smtp host", cfg: Config{Provider: "smtp", SMTP: provider.SMTPConfig{Host: "localhost", Port: "1025"}}, wantMode: ModeProvider, wantName: "smtp"},
		{name: "smtp without host", cfg: Config{Provider: "smtp"}, wantMode: ModeDisabled},
		{name: "ses without keys in development", cfg: Config{Provider: "ses", Environment: "development"}, wantMode: ModeConsole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(context.Background(), tt.cfg, WithLogger(quietLogger()), WithConsole(io.Discard))
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if c.Mode() != tt.wantMode {
				t.Errorf("Mode() = %v, want %v", c.Mode(), tt.wantMode)
			}
			if tt.wantName != "" && c.transport.Name() != tt.wantName {
				t.Errorf("transport = %q, want %q", c.transport.Name(), tt.wantName)
			}
		})
	}
}

func TestNewClient_FallbackRegistry(t *testing.T) {
	cfg := Config{
		APIKey:   "re_x",
		Fallback: []string{"smtp", "ses"},
		SMTP:     provider.SMTPConfig{Host: "localhost", Port: "1025"},
		Breaker:  &provider.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 5},
	}
	c, err := NewClient(context.Background(), cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	registry, isRegistry := c.transport.(*provider.Registry)
	if !isRegistry {
		t.Fatalf("transport = %T, want *provider.Registry", c.transport)
	}
	if got := registry.List(); len(got) != 2 || got[0] != "resend" || got[1] != "smtp" {
		t.Errorf("List() = %v, want [resend smtp] (ses skipped without keys)", got)
	}
}

type recordingMetrics struct {
	metrics.NoOp
	mu                    sync.Mutex
	sent, failed, retries int
	dev                   int
}

func (m *recordingMetrics) RecordSent(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *recordingMetrics) RecordFailed(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *recordingMetrics) RecordRetry(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) RecordDevMode(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dev++
}

func TestSend_RecordsMetrics(t *testing.T) {
	transport := &scriptedTransport{outcomes: []func() (string, error){
		providerErr(retry.CodeInternalServerError),
		ok("id"),
	}}
	m := &recordingMetrics{}
	c, err := NewClient(context.Background(), testConfig(),
		WithTransport(transport),
		WithLogger(quietLogger()),
		WithMetrics(m),
		WithPolicy(fastPolicy(t)),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	c.Send(context.Background(), basicRequest())

	if m.sent != 1 || m.retries != 1 || m.failed != 0 {
		t.Errorf("metrics sent=%d retries=%d failed=%d, want 1/1/0", m.sent, m.retries, m.failed)
	}
}

func TestResult(t *testing.T) {
	if r := Succeeded(""); r.MessageID() != "unknown" || !r.OK() {
		t.Errorf("Succeeded(\"\") = %+v", r)
	}
	if r := Failed("boom", ""); r.Code() != retry.CodeUnknown || r.ErrorMessage() != "boom" {
		t.Errorf("Failed(boom, \"\") = %+v", r)
	}

	var zero Result
	if zero.OK() || zero.Code() != retry.CodeUnknown {
		t.Errorf("zero Result = %+v, want failure with UNKNOWN_ERROR", zero)
	}
	if _, isSuccess := Failed("x", "y").Success(); isSuccess {
		t.Error("Failed().Success() reported ok")
	}
	if _, isFailure := Succeeded("id").Failure(); isFailure {
		t.Error("Succeeded().Failure() reported ok")
	}
}

func TestDefault(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	first := Default()
	if first == nil || first.Mode() != ModeDisabled {
		t.Fatalf("Default() = %+v, want disabled client", first)
	}
	if Default() != first {
		t.Error("Default() returned a different client on second call")
	}

	transport := &scriptedTransport{outcomes: []func() (string, error){ok("from-default")}}
	custom, _ := newTestClient(t, testConfig(), transport)
	SetDefault(custom)

	if res := Send(context.Background(), basicRequest()); res.MessageID() != "from-default" {
		t.Errorf("Send() via default = %+v", res)
	}

	ResetForTesting()
	if Default() == custom {
		t.Error("ResetForTesting() did not clear the default client")
	}
}

func TestConfig_Sender(t *testing.T) {
	if got := (Config{FromAddress: "a@b.io"}).Sender(); got != "a@b.io" {
		t.Errorf("Sender() = %q", got)
	}
	if got := (Config{FromAddress: "a@b.io", FromName: "App"}).Sender(); got != "App <a@b.io>" {
		t.Errorf("Sender() = %q", got)
	}
}
