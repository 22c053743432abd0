package metrics

import (
	"strings"
	"time"
)

// CollectorAdapter adapts Collector to the Recorder interface. Email counters
// are kept as custom counters, both in total and per email type.
type CollectorAdapter struct {
	collector *Collector
}

// NewCollectorAdapter wraps a Collector to implement Recorder.
func NewCollectorAdapter(collector *Collector) *CollectorAdapter {
	return &CollectorAdapter{collector: collector}
}

func (a *CollectorAdapter) RecordReceived() {
	a.collector.RecordReceived()
}

func (a *CollectorAdapter) RecordProcessed(latency time.Duration) {
	a.collector.RecordProcessed(latency)
}

func (a *CollectorAdapter) RecordError() {
	a.collector.RecordError()
}

func (a *CollectorAdapter) RecordSkipped() {
	a.collector.IncrementCustom("requests_skipped")
}

func (a *CollectorAdapter) RecordSent(emailType string) {
	a.count("emails_sent", emailType)
}

func (a *CollectorAdapter) RecordFailed(emailType, code string) {
	a.count("emails_failed", emailType)
	a.collector.IncrementCustom("emails_failed_code:" + code)
}

func (a *CollectorAdapter) RecordRetry(emailType, _ string) {
	a.count("emails_retried", emailType)
}

func (a *CollectorAdapter) RecordDevMode(emailType string) {
	a.count("emails_dev_mode", emailType)
}

func (a *CollectorAdapter) RecordAsyncFailure(emailType string) {
	a.count("emails_async_failed", emailType)
}

func (a *CollectorAdapter) RecordLatency(_ string, d time.Duration) {
	a.collector.AddCustom("emails_latency_ms_total", uint64(d.Milliseconds()))
}

// RecordHTTP counts requests per method, like the other platform services, and
// server errors separately.
func (a *CollectorAdapter) RecordHTTP(method, _ string, status int, _ time.Duration) {
	a.collector.IncrementCustom("http_" + strings.ToLower(method))
	if status >= 500 {
		a.collector.IncrementCustom("http_5xx")
	}
}

func (a *CollectorAdapter) count(name, emailType string) {
	a.collector.IncrementCustom(name)
	a.collector.IncrementCustom(name + ":" + emailType)
}

// Ensure CollectorAdapter implements Recorder
var (
	_ Recorder     = (*CollectorAdapter)(nil)
	_ HTTPRecorder = (*CollectorAdapter)(nil)
)
