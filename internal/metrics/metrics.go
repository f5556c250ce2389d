package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide set of Prometheus collectors. Each instance
// owns its registry, so tests can build as many as they need.
type Metrics struct {
	RequestLatency       *prometheus.HistogramVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestsInFlight prometheus.Gauge
	ErrorCounter         *prometheus.CounterVec

	// QuotaChecks counts admission decisions by result.
	QuotaChecks *prometheus.CounterVec
	// QuotaUtilization is primary-window usage by identity.
	QuotaUtilization *prometheus.GaugeVec
	TokensRecorded   prometheus.Counter
	CostRecorded     prometheus.Counter
	ThresholdsFired  *prometheus.CounterVec

	StoreDuration  *prometheus.HistogramVec
	AlertsSent     *prometheus.CounterVec
	CompactionRuns *prometheus.CounterVec
	EventsPruned   prometheus.Counter
	ConfigReloads  *prometheus.CounterVec
	// FailOpen counts requests admitted without a quota decision.
	FailOpen *prometheus.CounterVec
	// CircuitState is 0 closed, 1 open, 2 half-open per backend.
	CircuitState *prometheus.GaugeVec

	registry *prometheus.Registry
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics registers every collector under namespace in a fresh registry,
// together with the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	f := promauto.With(registry)

	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	return &Metrics{
		registry: registry,

		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"endpoint", "method", "status"}),
		HTTPRequestsTotal: counterVec("http_requests_total", "HTTP requests served.", "endpoint", "method", "status"),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		ErrorCounter: counterVec("errors_total", "HTTP responses counted as errors, by kind.", "type", "endpoint", "method"),

		QuotaChecks:      counterVec("quota_checks_total", "Quota admission decisions.", "result"),
		QuotaUtilization: gaugeVec("quota_utilization_percent", "Primary-window usage as a percentage of the limit.", "identity"),
		TokensRecorded:   counter("tokens_recorded_total", "Tokens appended to ledgers."),
		CostRecorded:     counter("cost_recorded_usd_total", "Estimated USD appended to ledgers."),
		ThresholdsFired:  counterVec("thresholds_fired_total", "Threshold notifications fired.", "threshold"),

		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Ledger storage latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		AlertsSent:     counterVec("alerts_sent_total", "Alert deliveries by sink and outcome.", "sink", "status"),
		CompactionRuns: counterVec("compaction_runs_total", "Ledger compaction runs.", "status"),
		EventsPruned:   counter("compaction_events_pruned_total", "Usage events removed by compaction."),
		ConfigReloads:  counterVec("config_reloads_total", "Configuration reloads.", "status"),
		FailOpen:       counterVec("fail_open_total", "Operations admitted because the quota backend was unavailable.", "operation"),
		CircuitState:   gaugeVec("circuit_state", "Storage circuit breaker state (0 closed, 1 open, 2 half-open).", "backend"),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests and tools.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordQuotaCheck records an admission decision.
func (m *Metrics) RecordQuotaCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.QuotaChecks.WithLabelValues(result).Inc()
}

// SetQuotaUtilization records primary-window usage for an identity
func (m *Metrics) SetQuotaUtilization(identity string, percent float64) {
	m.QuotaUtilization.WithLabelValues(identity).Set(percent)
}

// DeleteQuotaUtilization drops the gauge for a reset identity
func (m *Metrics) DeleteQuotaUtilization(identity string) {
	m.QuotaUtilization.DeleteLabelValues(identity)
}

// RecordUsage records tokens and cost appended to a ledger
func (m *Metrics) RecordUsage(tokens int64, cost float64) {
	m.TokensRecorded.Add(float64(tokens))
	if cost > 0 {
		m.CostRecorded.Add(cost)
	}
}

// RecordThreshold records a fired threshold
func (m *Metrics) RecordThreshold(percent float64) {
	m.ThresholdsFired.WithLabelValues(strconv.FormatFloat(percent, 'f', -1, 64)).Inc()
}

// RecordStoreOperation records the latency of a storage call
func (m *Metrics) RecordStoreOperation(operation string, err error, durationSeconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreDuration.WithLabelValues(operation, status).Observe(durationSeconds)
}

// RecordAlert records an alert delivery attempt
func (m *Metrics) RecordAlert(sink, status string) {
	m.AlertsSent.WithLabelValues(sink, status).Inc()
}

// RecordCompaction records a compaction run and the events it removed
func (m *Metrics) RecordCompaction(status string, pruned int) {
	m.CompactionRuns.WithLabelValues(status).Inc()
	if pruned > 0 {
		m.EventsPruned.Add(float64(pruned))
	}
}

// RecordConfigReload records a configuration reload
func (m *Metrics) RecordConfigReload(status string) {
	m.ConfigReloads.WithLabelValues(status).Inc()
}

// RecordFailOpen records an operation admitted without a quota decision
func (m *Metrics) RecordFailOpen(operation string) {
	m.FailOpen.WithLabelValues(operation).Inc()
}

// SetCircuitState records the breaker state of a storage backend
func (m *Metrics) SetCircuitState(backend string, state int) {
	m.CircuitState.WithLabelValues(backend).Set(float64(state))
}
