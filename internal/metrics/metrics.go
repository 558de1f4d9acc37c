// Package metrics exposes Prometheus instrumentation and the request counters behind the
// /health and /stats endpoints.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptcoach"

// Webhook outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector holds the service's Prometheus metrics on a private registry. All record
// methods are safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry
	started  time.Time

	totalRequests atomic.Int64
	errorCount    atomic.Int64

	WebhookRequests    *prometheus.CounterVec
	StageTransitions   *prometheus.CounterVec
	CrisisDetections   prometheus.Counter
	LLMRequests        *prometheus.CounterVec
	LLMRequestDuration prometheus.Histogram
	SessionsCompleted  *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		started:  time.Now(),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Total number of webhook requests by outcome",
		}, []string{"outcome"}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Coaching stage transitions",
		}, []string{"from", "to"}),
		CrisisDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_detections_total",
			Help:      "Sessions in which a crisis signal was first detected",
		}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by status",
		}, []string{"status"}),
		LLMRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Sessions archived, by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(c.WebhookRequests, c.StageTransitions, c.CrisisDetections,
		c.LLMRequests, c.LLMRequestDuration, c.SessionsCompleted)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordWebhook counts a webhook request and, when failed, an error.
func (c *Collector) RecordWebhook(outcome string) {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	if outcome != OutcomeOK {
		c.errorCount.Add(1)
	}
	c.WebhookRequests.WithLabelValues(outcome).Inc()
}

// RecordStageTransition counts a move between two named stages.
func (c *Collector) RecordStageTransition(from, to string) {
	if c == nil {
		return
	}
	c.StageTransitions.WithLabelValues(from, to).Inc()
}

// RecordCrisis counts a first crisis detection in a session.
func (c *Collector) RecordCrisis() {
	if c == nil {
		return
	}
	c.CrisisDetections.Inc()
}

// RecordLLMRequest counts an LLM call and observes its latency.
func (c *Collector) RecordLLMRequest(err error, d time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.LLMRequests.WithLabelValues(status).Inc()
	c.LLMRequestDuration.Observe(d.Seconds())
}

// RecordSessionCompleted counts an archived session.
func (c *Collector) RecordSessionCompleted(reason string) {
	if c == nil {
		return
	}
	c.SessionsCompleted.WithLabelValues(reason).Inc()
}

// Stats is a point-in-time snapshot of the request counters.
type Stats struct {
	TotalRequests int64
	ErrorCount    int64
	Uptime        time.Duration
}

// SuccessRate returns the percentage of requests that did not fail.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 100
	}
	return float64(s.TotalRequests-s.ErrorCount) / float64(s.TotalRequests) * 100
}

// Snapshot returns the current request counters.
func (c *Collector) Snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		TotalRequests: c.totalRequests.Load(),
		ErrorCount:    c.errorCount.Load(),
		Uptime:        time.Since(c.started),
	}
}
