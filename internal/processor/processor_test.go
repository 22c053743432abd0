package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
	"mailer/internal/metrics"
	"mailer/internal/sender/email"
	"mailer/internal/sender/payload"
	"mailer/internal/sender/retry"
)

var testBranding = payload.Branding{AppName: "Acme", AppURL: "https://acme.test"}

type countingMetrics struct {
	metrics.NoOp
	received, processed, errors, skipped atomic.Int64
}

func (m *countingMetrics) RecordReceived()               { m.received.Add(1) }
func (m *countingMetrics) RecordProcessed(time.Duration) { m.processed.Add(1) }
func (m *countingMetrics) RecordError()                  { m.errors.Add(1) }
func (m *countingMetrics) RecordSkipped()                { m.skipped.Add(1) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawRequest(id, to string) *events.EmailRequested {
	return &events.EmailRequested{
		RequestID: id,
		EmailType: "receipt",
		To:        []string{to},
		Subject:   "Your receipt",
		Text:      "Thanks",
	}
}

func offset(n int64) *kafka.Message {
	return &kafka.Message{Offset: n}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	p := New(newFakeReader(), &FakeMailer{})
	if p.workers != DefaultWorkers || p.deadLetter != nil || p.branding != payload.DefaultBranding {
		t.Errorf("defaults = %+v", p)
	}

	dl := &FakeDeadLetter{}
	p = New(newFakeReader(), &FakeMailer{}, WithWorkers(3), WithWorkers(0), WithDeadLetter(dl), WithBranding(testBranding), WithMetrics(nil))
	if p.workers != 3 || p.deadLetter != dl || p.branding != testBranding || p.metrics == nil {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestProcessor_Run(t *testing.T) {
	reader := newFakeReader(
		readResult{req: rawRequest("r1", "ann@example.com"), msg: offset(1)},
		readResult{req: &events.EmailRequested{RequestID: "r2", Template: "welcome", To: []string{"bob@example.com"}, Data: map[string]any{"name": "Bob"}}, msg: offset(2)},
		readResult{msg: offset(3), err: errors.New("failed to unmarshal email request")},
		readResult{req: rawRequest("r4", "down@example.com"), msg: offset(4)},
		readResult{req: rawRequest("r5", "not-an-address"), msg: offset(5)},
	)
	mailer := &FakeMailer{results: map[string]email.Result{
		"down@example.com": email.Failed("rate limited", retry.CodeRateLimitExceeded),
	}}
	dl := &FakeDeadLetter{}
	m := &countingMetrics{}
	p := New(reader, mailer,
		WithWorkers(2),
		WithDeadLetter(dl),
		WithMetrics(m),
		WithBranding(testBranding),
		WithLogger(quietLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-reader.drained
	waitFor(t, func() bool { return len(reader.commits()) == 5 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	commits := reader.commits()
	slices.Sort(commits)
	if !slices.Equal(commits, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("commits = %v", commits)
	}

	if got := len(mailer.sent()); got != 3 {
		t.Errorf("sends = %d, want 3 (invalid recipient never sent)", got)
	}

	letters := dl.published()
	slices.SortFunc(letters, func(a, b deadLetterCall) int { return strings.Compare(a.requestID, b.requestID) })
	if len(letters) != 2 {
		t.Fatalf("dead letters = %+v, want 2", letters)
	}
	if letters[0].requestID != "r4" || letters[0].code != retry.CodeRateLimitExceeded {
		t.Errorf("dead letter r4 = %+v", letters[0])
	}
	if letters[1].requestID != "r5" || letters[1].code != retry.CodeValidationError || strings.Contains(letters[1].message, "not-an-address") {
		t.Errorf("dead letter r5 = %+v", letters[1])
	}

	if m.received.Load() != 5 || m.skipped.Load() != 1 || m.errors.Load() != 2 || m.processed.Load() != 4 {
		t.Errorf("metrics received=%d skipped=%d errors=%d processed=%d",
			m.received.Load(), m.skipped.Load(), m.errors.Load(), m.processed.Load())
	}
}

func TestProcessor_RunRecoversFromReadErrors(t *testing.T) {
	orig := readErrorBackoff
	readErrorBackoff = time.Millisecond
	t.Cleanup(func() { readErrorBackoff = orig })

	reader := newFakeReader(
		readResult{err: errBroker},
		readResult{req: rawRequest("r1", "ann@example.com"), msg: offset(7)},
	)
	p := New(reader, &FakeMailer{}, WithWorkers(1), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return len(reader.commits()) == 1 })
	if got := reader.commits()[0]; got != 7 {
		t.Errorf("committed offset = %d, want 7", got)
	}
}

func TestProcessOne_DeadLetterFailureLeavesUncommitted(t *testing.T) {
	reader := newFakeReader()
	dl := &FakeDeadLetter{publishErr: errBroker}
	m := &countingMetrics{}
	mailer := &FakeMailer{results: map[string]email.Result{
		"ann@example.com": email.Failed("bad request", retry.CodeValidationError),
	}}
	p := New(reader, mailer, WithDeadLetter(dl), WithMetrics(m), WithLogger(quietLogger()))

	p.processOne(context.Background(), work{req: rawRequest("r1", "ann@example.com"), msg: offset(9)})

	if len(reader.commits()) != 0 {
		t.Errorf("offset committed after dead letter failure: %v", reader.commits())
	}
	if m.errors.Load() != 1 || m.processed.Load() != 0 {
		t.Errorf("metrics errors=%d processed=%d", m.errors.Load(), m.processed.Load())
	}
}

func TestProcessOne_FailureWithoutDeadLetterCommits(t *testing.T) {
	reader := newFakeReader()
	mailer := &FakeMailer{results: map[string]email.Result{
		"ann@example.com": email.Failed("bad request", retry.CodeValidationError),
	}}
	p := New(reader, mailer, WithLogger(quietLogger()))

	p.processOne(context.Background(), work{req: rawRequest("r1", "ann@example.com"), msg: offset(9)})

	if got := reader.commits(); !slices.Equal(got, []int64{9}) {
		t.Errorf("commits = %v, want [9]", got)
	}
}

func TestBuildRequest(t *testing.T) {
	p := New(newFakeReader(), &FakeMailer{}, WithBranding(testBranding))

	tests := []struct {
		name     string
		event    *events.EmailRequested
		wantCode string
		check    func(t *testing.T, req email.Request)
	}{
		{
			name: "raw message",
			event: &events.EmailRequested{
				To:      []string{"a@example.com"},
				Cc:      []string{"c@example.com"},
				Subject: "Hello",
				HTML:    "<p>Hi</p>",
				ReplyTo: "support@example.com",
				Tags:    []events.Tag{{Name: "campaign", Value: "spring"}},
			},
			check: func(t *testing.T, req email.Request) {
				if req.Subject != "Hello" || req.HTML != "<p>Hi</p>" || req.ReplyTo != "support@example.com" {
					t.Errorf("request = %+v", req)
				}
				if len(req.Cc) != 1 || len(req.Tags) != 1 || req.Tags[0].Value != "spring" {
					t.Errorf("cc/tags = %v %v", req.Cc, req.Tags)
				}
			},
		},
		{
			name: "template with several recipients",
			event: &events.EmailRequested{
				Template: "welcome",
				To:       []string{"a@example.com", "b@example.com"},
				Data:     map[string]any{"name": "Ann"},
				Tags:     []events.Tag{{Name: "source", Value: "kafka"}},
			},
			check: func(t *testing.T, req email.Request) {
				if req.Subject != "Welcome to Acme!" || !strings.Contains(req.Text, "Hi Ann") {
					t.Errorf("rendered = %q %q", req.Subject, req.Text)
				}
				if len(req.To) != 2 {
					t.Errorf("To = %v", req.To)
				}
				if len(req.Tags) != 2 || req.Tags[0].Value != "welcome" || req.Tags[1].Value != "kafka" {
					t.Errorf("Tags = %v", req.Tags)
				}
			},
		},
		{
			name:     "unknown template",
			event:    &events.EmailRequested{Template: "invoice", To: []string{"a@example.com"}},
			wantCode: payload.CodeTemplateError,
		},
		{
			name:     "invalid bcc",
			event:    &events.EmailRequested{To: []string{"a@example.com"}, Bcc: []string{"oops"}, Subject: "s", Text: "t"},
			wantCode: retry.CodeValidationError,
		},
		{
			name:     "invalid reply-to",
			event:    &events.EmailRequested{To: []string{"a@example.com"}, ReplyTo: "Support <s@example.com>", Subject: "s", Text: "t"},
			wantCode: retry.CodeValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.buildRequest(tt.event)
			if tt.wantCode != "" {
				if err == nil {
					t.Fatalf("buildRequest() error = nil, want %s", tt.wantCode)
				}
				if got := failureCode(err); got != tt.wantCode {
					t.Errorf("failureCode() = %q, want %q", got, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildRequest() error = %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestEmailTypeOf(t *testing.T) {
	tests := []struct {
		event *events.EmailRequested
		want  string
	}{
		{&events.EmailRequested{EmailType: "receipt", Template: "welcome"}, "receipt"},
		{&events.EmailRequested{Template: "verify-email"}, "verify-email"},
		{&events.EmailRequested{}, "generic"},
	}
	for _, tt := range tests {
		if got := emailTypeOf(tt.event); got != tt.want {
			t.Errorf("emailTypeOf(%+v) = %q, want %q", tt.event, got, tt.want)
		}
	}
}
