// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinic"

// Auth attempt results.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRateLimited counts requests rejected by the rate limiter.
	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Number of requests rejected by the per-IP rate limiter",
		},
	)

	// AuthAttempts counts registration and login attempts by outcome.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Number of registration and login attempts by result",
		},
		[]string{"operation", "result"},
	)

	// AppointmentsCreated counts successfully booked appointments.
	AppointmentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "created_total",
			Help:      "Number of appointments booked",
		},
	)
)

// RecordAuthAttempt increments the auth attempts counter.
func RecordAuthAttempt(operation, result string) {
	AuthAttempts.WithLabelValues(operation, result).Inc()
}
