// Package metrics provides metrics recording interfaces for the mailer service.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder defines the interface for recording mailer metrics.
// Implementations can record to various backends (Redis, Prometheus, etc.)
type Recorder interface {
	// RecordReceived increments the count of inbound email requests (HTTP or Kafka).
	RecordReceived()

	// RecordProcessed records a handled inbound request with its latency.
	RecordProcessed(latency time.Duration)

	// RecordError increments the processing error counter.
	RecordError()

	// RecordSkipped increments the count of malformed inbound requests that were dropped.
	RecordSkipped()

	// RecordSent increments the count of delivered emails.
	RecordSent(emailType string)

	// RecordFailed increments the count of terminally failed emails.
	RecordFailed(emailType, code string)

	// RecordRetry increments the count of scheduled delivery retries.
	RecordRetry(emailType, code string)

	// RecordDevMode increments the count of emails rendered to the console instead of sent.
	RecordDevMode(emailType string)

	// RecordAsyncFailure increments the count of failed fire-and-forget sends.
	RecordAsyncFailure(emailType string)

	// RecordLatency records the end-to-end delivery time of one send, retries included.
	RecordLatency(emailType string, d time.Duration)
}

// HTTPRecorder records served HTTP requests. Route is the registered pattern,
// never the raw path, to keep label cardinality bounded.
type HTTPRecorder interface {
	RecordHTTP(method, route string, status int, d time.Duration)
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
// Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordReceived()                         {}
func (n *NoOp) RecordProcessed(_ time.Duration)         {}
func (n *NoOp) RecordError()                            {}
func (n *NoOp) RecordSkipped()                          {}
func (n *NoOp) RecordSent(_ string)                     {}
func (n *NoOp) RecordFailed(_, _ string)                {}
func (n *NoOp) RecordRetry(_, _ string)                 {}
func (n *NoOp) RecordDevMode(_ string)                  {}
func (n *NoOp) RecordAsyncFailure(_ string)             {}
func (n *NoOp) RecordLatency(_ string, _ time.Duration) {}

// Ensure NoOp implements Recorder
var _ Recorder = (*NoOp)(nil)

// Multi fans every call out to several recorders.
type Multi []Recorder

// NewMulti combines recorders, skipping nil entries.
func NewMulti(recorders ...Recorder) Multi {
	m := make(Multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) RecordReceived() {
	for _, r := range m {
		r.RecordReceived()
	}
}

func (m Multi) RecordProcessed(latency time.Duration) {
	for _, r := range m {
		r.RecordProcessed(latency)
	}
}

func (m Multi) RecordError() {
	for _, r := range m {
		r.RecordError()
	}
}

func (m Multi) RecordSkipped() {
	for _, r := range m {
		r.RecordSkipped()
	}
}

func (m Multi) RecordSent(emailType string) {
	for _, r := range m {
		r.RecordSent(emailType)
	}
}

func (m Multi) RecordFailed(emailType, code string) {
	for _, r := range m {
		r.RecordFailed(emailType, code)
	}
}

func (m Multi) RecordRetry(emailType, code string) {
	for _, r := range m {
		r.RecordRetry(emailType, code)
	}
}

func (m Multi) RecordDevMode(emailType string) {
	for _, r := range m {
		r.RecordDevMode(emailType)
	}
}

func (m Multi) RecordAsyncFailure(emailType string) {
	for _, r := range m {
		r.RecordAsyncFailure(emailType)
	}
}

func (m Multi) RecordLatency(emailType string, d time.Duration) {
	for _, r := range m {
		r.RecordLatency(emailType, d)
	}
}

// RecordHTTP forwards to the recorders that also implement HTTPRecorder.
func (m Multi) RecordHTTP(method, route string, status int, d time.Duration) {
	for _, r := range m {
		if h, ok := r.(HTTPRecorder); ok {
			h.RecordHTTP(method, route, status, d)
		}
	}
}

var (
	_ Recorder     = Multi(nil)
	_ HTTPRecorder = Multi(nil)
)
