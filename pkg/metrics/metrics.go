package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_messages_consumed_total",
			Help: "Messages fetched from Kafka, by topic and outcome (count)",
		},
		[]string{"topic", "status"},
	)

	PoisonMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_poison_messages_total",
			Help: "Messages permanently skipped, by topic and reason (count)",
		},
		[]string{"topic", "reason"},
	)

	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_sink_writes_total",
			Help: "Documents written to the backend, by backend and status (count)",
		},
		[]string{"backend", "status"},
	)

	SinkRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_sink_retries_total",
			Help: "Transient sink failures that triggered a backoff retry (count)",
		},
		[]string{"topic"},
	)

	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logpipe_sink_write_duration_ms",
			Help:    "Backend write latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"backend"},
	)

	RecordsExportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_records_exported_total",
			Help: "Log records encrypted and published to Kafka, by topic and status (count)",
		},
		[]string{"topic", "status"},
	)

	ExportPublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_export_publish_retries_total",
			Help: "Publish attempts retried against the broker (count)",
		},
		[]string{"topic"},
	)

	ActiveFollowersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logpipe_active_followers",
			Help: "Log sources currently being followed by the exporter (count)",
		},
	)

	IndicesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "logpipe_indices_pruned_total",
			Help: "Daily indices deleted by the retention job (count)",
		},
	)

	CuratorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logpipe_curator_runs_total",
			Help: "Housekeeping job executions, by job and status (count)",
		},
		[]string{"job", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logpipe_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)
)

func RegisterConsumerMetrics() {
	prometheus.MustRegister(
		MessagesConsumedTotal,
		PoisonMessagesTotal,
		SinkWritesTotal,
		SinkRetriesTotal,
		SinkWriteDuration,
		CircuitBreakerState,
	)
}

func RegisterExporterMetrics() {
	prometheus.MustRegister(
		RecordsExportedTotal,
		ExportPublishRetriesTotal,
		ActiveFollowersGauge,
	)
}

func RegisterCuratorMetrics() {
	prometheus.MustRegister(
		IndicesPrunedTotal,
		CuratorRunsTotal,
	)
}

func SetCircuitBreakerState(name string, state gobreaker.State) {
	var value float64
	switch state {
	case gobreaker.StateClosed:
		value = 0
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(value)
}
