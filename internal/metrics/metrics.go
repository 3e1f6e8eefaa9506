package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardiag_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	SamplesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_samples_ingested_total",
			Help: "Total number of telemetry samples ingested",
		},
		[]string{"signal_id", "status"}, // status: accepted, flagged, rejected
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardiag_ingest_duration_seconds",
			Help:    "End-to-end time to ingest and evaluate one sample",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	// Rule evaluation metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"signal_id", "kind", "outcome"}, // outcome: fired, clear, undecidable
	)

	// Alert metrics
	AlertsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_alerts_opened_total",
			Help: "Total number of alerts opened",
		},
		[]string{"alert_type", "severity"},
	)

	AlertsRefreshedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiag_alerts_refreshed_total",
			Help: "Total number of in-place alert refreshes",
		},
	)

	AlertsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiag_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		},
	)

	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardiag_active_alerts",
			Help: "Current number of open unacknowledged alerts",
		},
	)

	// Configuration metrics
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_config_reloads_total",
			Help: "Total number of signal config reload attempts",
		},
		[]string{"status"}, // status: success, rejected
	)

	ConfiguredSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardiag_configured_signals",
			Help: "Number of signals in the active registry",
		},
	)

	// Alert event dispatch metrics
	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardiag_dispatch_queue_size",
			Help: "Current size of the alert event dispatch queue",
		},
	)

	DispatchPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiag_dispatch_published_total",
			Help: "Total number of alert events published downstream",
		},
	)

	DispatchFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiag_dispatch_failed_total",
			Help: "Total number of alert events that failed to publish",
		},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardiag_kafka_publish_duration_seconds",
			Help:    "Time taken to publish an alert batch to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiag_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiag_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
