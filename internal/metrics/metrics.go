package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PayloadsCreated counts payloads opened by the aggregator
	PayloadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_payloads_created_total",
		Help: "Number of payloads created by the aggregator",
	})

	// PayloadsFlushed counts payload flushes by trigger
	PayloadsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_payloads_flushed_total",
		Help: "Number of payloads flushed, partitioned by flush trigger",
	}, []string{"trigger"})

	// FilesReceived counts artifacts admitted into payloads by service type
	FilesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_files_received_total",
		Help: "Number of artifacts admitted into payloads, partitioned by service",
	}, []string{"service"})

	// ExportAttempts counts delivery attempts by destination
	ExportAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_export_attempts_total",
		Help: "Number of export delivery attempts, partitioned by destination",
	}, []string{"destination"})

	// ExportFailures counts failed delivery attempts by destination and error kind
	ExportFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_export_failures_total",
		Help: "Number of failed export attempts, partitioned by destination and error",
	}, []string{"destination", "error"})

	// PayloadsPermanentlyFailed counts payloads removed after retry exhaustion
	PayloadsPermanentlyFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_payloads_failed_total",
		Help: "Number of payloads permanently failed after exhausting retries",
	})

	// ActiveAssociations tracks currently open inbound associations
	ActiveAssociations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_associations",
		Help: "Number of currently open inbound associations",
	})
)
