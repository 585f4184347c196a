// Package metrics holds the Prometheus collectors for the CRM.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Segmentation metrics
	PromptTranslations *prometheus.CounterVec
	FilterRejections   *prometheus.CounterVec
	SegmentsSaved      prometheus.Counter

	// LLM metrics
	LLMRequests        *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// Campaign metrics
	CampaignsCreated *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	JobsRecovered    *prometheus.CounterVec

	// Auth metrics
	LoginAttempts   *prometheus.CounterVec
	UsersRegistered prometheus.Counter
}

// New creates a Metrics instance registered on its own registry, so tests
// and multiple binaries never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		PromptTranslations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_prompt_translations_total",
				Help: "Prompt-to-filter translations by outcome",
			},
			[]string{"outcome"},
		),
		FilterRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_filter_rejections_total",
				Help: "Model-produced filters rejected by the whitelist, by offending key",
			},
			[]string{"key"},
		),
		SegmentsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "segments_saved_total",
			Help: "Total number of segments saved",
		}),

		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Text generation calls by provider, operation and status",
			},
			[]string{"provider", "operation", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Text generation latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider", "operation"},
		),

		CampaignsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaigns_created_total",
				Help: "Total number of campaigns created by delivery mode",
			},
			[]string{"mode"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_deliveries_total",
				Help: "Resolved deliveries by mode and status",
			},
			[]string{"mode", "status"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Jobs waiting in the delivery queue",
		}),
		JobsRecovered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_jobs_recovered_total",
				Help: "Stale delivery jobs recovered by action",
			},
			[]string{"action"},
		),

		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "login_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"provider", "status"},
		),
		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Total number of users registered",
		}),
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

// ObserveLLM records one text generation call.
func (m *Metrics) ObserveLLM(provider, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMRequests.WithLabelValues(provider, operation, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// RecordTranslation counts a prompt translation outcome.
func (m *Metrics) RecordTranslation(outcome string) {
	if m == nil {
		return
	}
	m.PromptTranslations.WithLabelValues(outcome).Inc()
}

// RecordRejection counts a whitelist rejection for key.
func (m *Metrics) RecordRejection(key string) {
	if m == nil {
		return
	}
	m.FilterRejections.WithLabelValues(key).Inc()
}

// RecordSegmentSaved counts a saved segment.
func (m *Metrics) RecordSegmentSaved() {
	if m == nil {
		return
	}
	m.SegmentsSaved.Inc()
}

// RecordCampaign counts a created campaign.
func (m *Metrics) RecordCampaign(mode string) {
	if m == nil {
		return
	}
	m.CampaignsCreated.WithLabelValues(mode).Inc()
}

// RecordDelivery counts a resolved delivery.
func (m *Metrics) RecordDelivery(mode, status string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(mode, status).Inc()
}

// SetQueueDepth publishes the current queue length.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordRecovery counts a recovered job by action ("requeued" or "dead_lettered").
func (m *Metrics) RecordRecovery(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.JobsRecovered.WithLabelValues(action).Add(float64(n))
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(provider string, success bool) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.LoginAttempts.WithLabelValues(provider, status).Inc()
}

// RecordSignup counts a registered user.
func (m *Metrics) RecordSignup() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}
