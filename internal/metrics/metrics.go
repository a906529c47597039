package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors on a private registry so several
// instances can coexist in one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections       prometheus.Gauge
	messages          *prometheus.CounterVec
	backendDuration   *prometheus.HistogramVec
	broadcasts        *prometheus.CounterVec
	trainingJobs      prometheus.Gauge
	droppedDeliveries prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "miovo_bridge_connections",
			Help: "Number of registered client connections",
		}),

		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miovo_bridge_messages_total",
				Help: "Inbound messages by type and outcome",
			},
			[]string{"type", "result"},
		),

		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "miovo_bridge_backend_request_duration_seconds",
				Help:    "Latency of calls to the synthesis and conversion backends",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation", "result"},
		),

		broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miovo_bridge_broadcasts_total",
				Help: "Broadcast pushes by message type",
			},
			[]string{"type"},
		),

		trainingJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "miovo_bridge_training_jobs_active",
			Help: "Training jobs currently ticking",
		}),

		droppedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "miovo_bridge_dropped_deliveries_total",
			Help: "Outbound messages dropped because the connection was closed or its queue was full",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) RecordMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveBackend(backend, operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(backend, operation, result).Observe(seconds)
}

func (m *Metrics) RecordBroadcast(msgType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(msgType).Inc()
}

func (m *Metrics) TrainingJobStarted() {
	if m == nil {
		return
	}
	m.trainingJobs.Inc()
}

func (m *Metrics) TrainingJobFinished() {
	if m == nil {
		return
	}
	m.trainingJobs.Dec()
}

func (m *Metrics) RecordDroppedDelivery() {
	if m == nil {
		return
	}
	m.droppedDeliveries.Inc()
}
