// Package metrics exposes process-wide Prometheus collectors for the HTTP API
// and the page session lifecycle. Per-check metrics are exported by the
// progress Prometheus sink.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	sessionsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offerwatch_page_sessions_opened_total",
			Help: "Total page sessions created by watchers.",
		},
	)

	sessionsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offerwatch_page_sessions_lost_total",
			Help: "Total page sessions discarded after the driver went away.",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_notifications_total",
			Help: "Notification deliveries, labeled by result.",
		},
		[]string{"result"},
	)

	navigationDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerwatch_navigation_delay_seconds",
			Help:    "Time navigations waited on the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSessionOpened counts a new page session.
func ObserveSessionOpened() {
	sessionsOpenedTotal.Inc()
}

// ObserveSessionLost counts a session dropped after a driver failure.
func ObserveSessionLost() {
	sessionsLostTotal.Inc()
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveNavigationDelay records how long a navigation waited for its host's
// rate limiter.
func ObserveNavigationDelay(host string, d time.Duration) {
	navigationDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
