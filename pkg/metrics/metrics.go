// Package metrics provides Prometheus metrics for the d2g service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "d2g"

var (
	// RegistryOperationsTotal tracks schema registry operations by outcome
	RegistryOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Total number of schema registry operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RegistryOperationDuration tracks schema registry operation duration
	RegistryOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operation_duration_seconds",
			Help:      "Duration of schema registry operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// LockWaitDuration tracks time spent acquiring per-form locks
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring per-form locks in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Total number of form submissions by form and status",
		},
		[]string{"form_id", "status"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "sent_total",
			Help:      "Total number of emails sent by kind and status",
		},
		[]string{"kind", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
)

// RecordRegistryOperation records one schema registry call
func RecordRegistryOperation(operation, status string, durationSeconds float64) {
	RegistryOperationsTotal.WithLabelValues(operation, status).Inc()
	RegistryOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func RecordLockWait(status string, durationSeconds float64) {
	LockWaitDuration.WithLabelValues(status).Observe(durationSeconds)
}

func RecordSubmission(formID, status string) {
	SubmissionsTotal.WithLabelValues(formID, status).Inc()
}

func RecordEmail(kind, status string) {
	EmailsSentTotal.WithLabelValues(kind, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}
