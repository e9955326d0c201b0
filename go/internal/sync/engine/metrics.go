package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting engine metrics
type MetricsCollector interface {
	RecordPhase(phase Phase)
	RecordConnectionLoss(reason string)
	RecordRetryScheduled(attempt int, delay time.Duration)
	RecordRetriesExhausted()
	RecordPayload(accepted bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordPhase(phase Phase)                               {}
func (n *NoOpMetricsCollector) RecordConnectionLoss(reason string)                    {}
func (n *NoOpMetricsCollector) RecordRetryScheduled(attempt int, delay time.Duration) {}
func (n *NoOpMetricsCollector) RecordRetriesExhausted()                               {}
func (n *NoOpMetricsCollector) RecordPayload(accepted bool)                           {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	phase            *prometheus.GaugeVec
	connectionLosses *prometheus.CounterVec
	retriesScheduled prometheus.Counter
	retryDelay       prometheus.Histogram
	retriesExhausted prometheus.Counter
	payloads         *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_phase",
			Help:      "Current session phase (1 for the active phase)",
		}, []string{"phase"}),
		connectionLosses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_losses_total",
			Help:      "Connection failures by reason",
		}, []string{"reason"}),
		retriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Delay before scheduled reconnect attempts",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		retriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Times the retry budget ran out",
		}),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_total",
			Help:      "Inbound channel payloads by result",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.phase,
		m.connectionLosses,
		m.retriesScheduled,
		m.retryDelay,
		m.retriesExhausted,
		m.payloads,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordPhase(phase Phase) {
	for _, p := range AllPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(string(p)).Set(v)
	}
}

func (m *PrometheusMetrics) RecordConnectionLoss(reason string) {
	m.connectionLosses.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordRetryScheduled(attempt int, delay time.Duration) {
	m.retriesScheduled.Inc()
	m.retryDelay.Observe(delay.Seconds())
}

func (m *PrometheusMetrics) RecordRetriesExhausted() {
	m.retriesExhausted.Inc()
}

func (m *PrometheusMetrics) RecordPayload(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "ignored"
	}
	m.payloads.WithLabelValues(result).Inc()
}
