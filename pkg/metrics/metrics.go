// Package metrics provides the Prometheus collectors of the force sensor controller
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (

	// NotificationsReceived counts decoded notifications per characteristic
	NotificationsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btforce_notifications_received_total",
			Help: "Number of notifications decoded successfully",
		},
		[]string{"characteristic"},
	)

	// NotificationsDropped counts notifications that were discarded, labeled by reason
	NotificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btforce_notifications_dropped_total",
			Help: "Number of notifications dropped",
		},
		[]string{"characteristic", "reason"},
	)

	// ConnectAttempts counts connection attempts, labeled by result
	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btforce_connect_attempts_total",
			Help: "Number of connection attempts",
		},
		[]string{"result"},
	)

	// Commands counts dispatched commands, labeled by command and result
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btforce_commands_total",
			Help: "Number of dispatched commands",
		},
		[]string{"command", "result"},
	)

	// CaptureSamples observes the number of samples per capture run
	CaptureSamples = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "btforce_capture_samples",
		Help:    "Number of samples recorded per capture run",
		Buckets: prometheus.ExponentialBuckets(8, 2, 10),
	})

	// LatestForce tracks the latest force reading
	LatestForce = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "btforce_latest_force",
		Help: "Latest force reading",
	})
)

// MustRegister registers all collectors with the default registry
func MustRegister() {
	prometheus.MustRegister(
		NotificationsReceived,
		NotificationsDropped,
		ConnectAttempts,
		Commands,
		CaptureSamples,
		LatestForce,
	)
}

// Handler returns the HTTP handler exposing the metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
