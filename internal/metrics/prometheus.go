package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records metrics as Prometheus collectors on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	received   prometheus.Counter
	processed  prometheus.Histogram
	errors     prometheus.Counter
	skipped    prometheus.Counter
	sent       *prometheus.CounterVec
	failed     *prometheus.CounterVec
	retries    *prometheus.CounterVec
	devMode    *prometheus.CounterVec
	asyncFails *prometheus.CounterVec
	latency    *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates a recorder with all collectors registered under the
// "mailer" namespace, plus the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailer", Name: "requests_received_total",
			Help: "Inbound email requests received over HTTP or Kafka.",
		}),
		processed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailer", Name: "request_duration_seconds",
			Help:    "Time spent handling one inbound email request.",
			Buckets: prometheus.DefBuckets,
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailer", Name: "processing_errors_total",
			Help: "Errors while handling inbound requests.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailer", Name: "requests_skipped_total",
			Help: "Malformed inbound requests that were dropped.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "emails_sent_total",
			Help: "Emails accepted by the provider.",
		}, []string{"email_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "emails_failed_total",
			Help: "Emails that failed terminally.",
		}, []string{"email_type", "code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "email_retries_total",
			Help: "Delivery retries scheduled after a transient failure.",
		}, []string{"email_type", "code"}),
		devMode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "emails_dev_mode_total",
			Help: "Emails rendered to the console instead of sent.",
		}, []string{"email_type"}),
		asyncFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "emails_async_failed_total",
			Help: "Fire-and-forget sends that failed.",
		}, []string{"email_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailer", Name: "email_send_duration_seconds",
			Help:    "End-to-end send duration including retries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"email_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailer", Name: "http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mailer", Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.received, p.processed, p.errors, p.skipped,
		p.sent, p.failed, p.retries, p.devMode, p.asyncFails, p.latency,
		p.httpRequests, p.httpDuration,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Gatherer exposes the registry, used by tests.
func (p *Prometheus) Gatherer() prometheus.Gatherer {
	return p.registry
}

func (p *Prometheus) RecordReceived() { p.received.Inc() }

func (p *Prometheus) RecordProcessed(latency time.Duration) { p.processed.Observe(latency.Seconds()) }

func (p *Prometheus) RecordError() { p.errors.Inc() }

func (p *Prometheus) RecordSkipped() { p.skipped.Inc() }

func (p *Prometheus) RecordSent(emailType string) { p.sent.WithLabelValues(emailType).Inc() }

func (p *Prometheus) RecordFailed(emailType, code string) {
	p.failed.WithLabelValues(emailType, code).Inc()
}

func (p *Prometheus) RecordRetry(emailType, code string) {
	p.retries.WithLabelValues(emailType, code).Inc()
}

func (p *Prometheus) RecordDevMode(emailType string) { p.devMode.WithLabelValues(emailType).Inc() }

func (p *Prometheus) RecordAsyncFailure(emailType string) {
	p.asyncFails.WithLabelValues(emailType).Inc()
}

func (p *Prometheus) RecordLatency(emailType string, d time.Duration) {
	p.latency.WithLabelValues(emailType).Observe(d.Seconds())
}

func (p *Prometheus) RecordHTTP(method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

var (
	_ Recorder     = (*Prometheus)(nil)
	_ HTTPRecorder = (*Prometheus)(nil)
)
