package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"

	"mailer/internal/events"
	"mailer/internal/sender/email"
)

// readResult is one scripted ReadMessage return.
type readResult struct {
	req *events.EmailRequested
	msg *kafka.Message
	err error
}

// FakeReader replays scripted results, then blocks until the context is done.
type FakeReader struct {
	mu        sync.Mutex
	results   []readResult
	index     int
	committed []int64
	commitErr error
	drained   chan struct{}
}

func newFakeReader(results ...readResult) *FakeReader {
	return &FakeReader{results: results, drained: make(chan struct{})}
}

func (f *FakeReader) ReadMessage(ctx context.Context) (*events.EmailRequested, *kafka.Message, error) {
	f.mu.Lock()
	if f.index < len(f.results) {
		r := f.results[f.index]
		f.index++
		f.mu.Unlock()
		return r.req, r.msg, r.err
	}
	if f.index == len(f.results) {
		f.index++
		close(f.drained)
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (f *FakeReader) CommitMessage(_ context.Context, msg *kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *FakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

// FakeMailer returns results keyed by the first recipient.
type FakeMailer struct {
	mu       sync.Mutex
	results  map[string]email.Result
	requests []email.Request
}

func (f *FakeMailer) Send(_ context.Context, req email.Request, _ ...email.SendOption) email.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if r, ok := f.results[req.To[0]]; ok {
		return r
	}
	return email.Succeeded("msg_" + req.To[0])
}

func (f *FakeMailer) sent() []email.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Request(nil), f.requests...)
}

// deadLetterCall records one Publish.
type deadLetterCall struct {
	requestID string
	code      string
	message   string
}

// FakeDeadLetter records published dead letters.
type FakeDeadLetter struct {
	mu         sync.Mutex
	calls      []deadLetterCall
	publishErr error
}

func (f *FakeDeadLetter) Publish(_ context.Context, req *events.EmailRequested, code, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.calls = append(f.calls, deadLetterCall{requestID: req.RequestID, code: code, message: message})
	return nil
}

func (f *FakeDeadLetter) published() []deadLetterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deadLetterCall(nil), f.calls...)
}

var errBroker = errors.New("broker unavailable")
