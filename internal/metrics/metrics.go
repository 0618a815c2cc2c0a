package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (mailbox surface + health/stats)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flexalert_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Mailbox protocol metrics (§4.G)
	MailboxRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_mailbox_requests_total",
			Help: "Total number of mailbox protocol requests",
		},
		[]string{"verb", "status"},
	)

	// Rule evaluation metrics (§4.B, §4.F)
	RulesEvaluatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_rules_evaluated_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"}, // ok, unknown, error
	)

	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_alerts_emitted_total",
			Help: "Total number of alerts emitted by severity",
		},
		[]string{"severity", "state"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flexalert_tick_duration_seconds",
			Help:    "Time taken to run one evaluation tick",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Metric cache metrics (§4.C)
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flexalert_metric_cache_size",
			Help: "Current number of samples held in the metric cache",
		},
	)

	CacheEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flexalert_metric_cache_evicted_total",
			Help: "Total number of samples evicted from the metric cache",
		},
	)

	// Asset registry metrics (§4.D)
	AssetsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flexalert_assets_tracked",
			Help: "Current number of assets tracked by the registry",
		},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flexalert_rules_loaded",
			Help: "Current number of rules held by the rule store",
		},
	)

	// Kafka bus metrics
	BusPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_bus_publish_total",
			Help: "Total number of messages published to the bus",
		},
		[]string{"topic", "status"},
	)

	BusConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_bus_consume_total",
			Help: "Total number of messages consumed from the bus",
		},
		[]string{"topic", "status"},
	)

	// Action dispatch metrics
	ActionsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_actions_dispatched_total",
			Help: "Total number of alert actions dispatched by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexalert_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
