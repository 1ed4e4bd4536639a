package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the webhook and API servers.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ephemera",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var WebhooksReceivedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "webhooks",
		Name:      "received_total",
		Help:      "Total number of GitHub webhook deliveries received, by event and action.",
	},
	[]string{"event", "action"},
)

var WebhooksRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "webhooks",
		Name:      "rejected_total",
		Help:      "Total number of webhook deliveries rejected, by reason.",
	},
	[]string{"reason"},
)

var EnvironmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "environments",
		Name:      "total",
		Help:      "Total number of environments transitioned to a terminal or ready state, by status.",
	},
	[]string{"status"},
)

var EnvironmentProvisionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ephemera",
		Subsystem: "environments",
		Name:      "provision_duration_seconds",
		Help:      "Time from job claim to READY or FAILED for provision jobs.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
	},
)

var JobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Total number of background jobs processed, by queue and outcome.",
	},
	[]string{"queue", "outcome"},
)

var JobsInFlight = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ephemera",
		Subsystem: "jobs",
		Name:      "in_flight",
		Help:      "Number of jobs currently claimed and being processed, by queue.",
	},
	[]string{"queue"},
)

var SynthesisProviderCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "synthesis",
		Name:      "provider_calls_total",
		Help:      "Total number of LLM provider calls, by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

var SynthesisFallbackTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "synthesis",
		Name:      "fallback_total",
		Help:      "Total number of deployments that fell back to baseline synthesis after AI synthesis failed or was rejected.",
	},
)

var ClusterOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ephemera",
		Subsystem: "cluster",
		Name:      "operations_total",
		Help:      "Total number of cluster driver operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// All returns all ephemera-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		WebhooksReceivedTotal,
		WebhooksRejectedTotal,
		EnvironmentsTotal,
		EnvironmentProvisionDuration,
		JobsProcessedTotal,
		JobsInFlight,
		SynthesisProviderCalls,
		SynthesisFallbackTotal,
		ClusterOperationsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
