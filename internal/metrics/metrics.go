// Package metrics exposes the prometheus collectors of the engine and server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldlog"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeOffline = "offline"
)

var (
	mergeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "requests_total",
			Help:      "List requests by entity and source plan (local, remote, both)",
		},
		[]string{"entity", "mode"},
	)

	synchronizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synchro",
			Name:      "promotions_total",
			Help:      "Local to remote promotions by entity and outcome",
		},
		[]string{"entity", "outcome"},
	)

	synchronizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "synchro",
			Name:      "promotion_duration_seconds",
			Help:      "Duration of local to remote promotions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	cleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synchro",
			Name:      "local_cleanup_failures_total",
			Help:      "Local cleanup failures after a committed promotion",
		},
		[]string{"entity"},
	)

	qualityOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quality",
			Name:      "operations_total",
			Help:      "Quality workflow operations by entity, operation and outcome",
		},
		[]string{"entity", "operation", "outcome"},
	)

	positionSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "samples_total",
			Help:      "Device position samples by outcome (saved, skipped, denied, failed)",
		},
		[]string{"outcome"},
	)

	recordsMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "mutations_total",
			Help:      "Server side mutations by entity, operation and outcome",
		},
		[]string{"entity", "operation", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordMergeRequest counts one merged list request.
func RecordMergeRequest(entity, mode string) {
	mergeRequestsTotal.WithLabelValues(entity, mode).Inc()
}

// RecordSynchronization counts one promotion and its duration.
func RecordSynchronization(entity, outcome string, elapsed time.Duration) {
	synchronizationsTotal.WithLabelValues(entity, outcome).Inc()
	synchronizationDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
}

// RecordCleanupFailure counts a local cleanup failure after commit.
func RecordCleanupFailure(entity string) {
	cleanupFailuresTotal.WithLabelValues(entity).Inc()
}

// RecordQualityOperation counts one quality workflow operation.
func RecordQualityOperation(entity, operation, outcome string) {
	qualityOperationsTotal.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordPositionSample counts one device position sample.
func RecordPositionSample(outcome string) {
	positionSamplesTotal.WithLabelValues(outcome).Inc()
}

// RecordMutation counts one server side mutation.
func RecordMutation(entity, operation, outcome string) {
	recordsMutationsTotal.WithLabelValues(entity, operation, outcome).Inc()
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Outcome maps an error to the success/failure label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
