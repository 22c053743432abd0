package handlers

import (
	"context"
	"sync"

	"mailer/internal/database"
	"mailer/internal/sender/async"
	"mailer/internal/sender/email"
)

// fakeMailer records requests and returns a fixed result.
type fakeMailer struct {
	mu       sync.Mutex
	result   email.Result
	mode     email.Mode
	requests []email.Request
}

func newFakeMailer(result email.Result) *fakeMailer {
	return &fakeMailer{result: result, mode: email.ModeProvider}
}

func (f *fakeMailer) Send(_ context.Context, req email.Request, _ ...email.SendOption) email.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeMailer) Mode() email.Mode { return f.mode }

func (f *fakeMailer) sent() []email.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Request(nil), f.requests...)
}

// inlineDispatcher runs dispatched sends synchronously so tests can observe them.
type inlineDispatcher struct {
	contexts []async.Context
	results  []email.Result
}

func (d *inlineDispatcher) Dispatch(send async.SendFunc, c async.Context) {
	d.contexts = append(d.contexts, c)
	d.results = append(d.results, send(context.Background()))
}

// fakeEvents implements EventReader.
type fakeEvents struct {
	events    []database.StoredEvent
	err       error
	emailType string
	limit     int
}

func (f *fakeEvents) Recent(_ context.Context, emailType string, limit int) ([]database.StoredEvent, error) {
	f.emailType, f.limit = emailType, limit
	return f.events, f.err
}
