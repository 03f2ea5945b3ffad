package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LocationFixes counts one-shot and tracking fixes by outcome
	LocationFixes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afyaride",
			Name:      "location_fixes_total",
			Help:      "Total number of location fixes requested or delivered",
		},
		[]string{"mode", "result"},
	)

	// TrackingSessionsActive tracks sessions started and not yet stopped
	TrackingSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "afyaride",
			Name:      "tracking_sessions_active",
			Help:      "Number of open tracking sessions",
		},
	)

	// TrackingErrors counts provider errors delivered to tracking sessions
	TrackingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afyaride",
			Name:      "tracking_errors_total",
			Help:      "Total number of provider errors reported to tracking sessions",
		},
		[]string{"reason"},
	)

	// GeocodeRequests counts reverse geocoding lookups
	GeocodeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afyaride",
			Name:      "geocode_requests_total",
			Help:      "Total number of reverse geocoding requests",
		},
		[]string{"provider", "result"},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// Safe to call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(LocationFixes)
		prometheus.DefaultRegisterer.Register(TrackingSessionsActive)
		prometheus.DefaultRegisterer.Register(TrackingErrors)
		prometheus.DefaultRegisterer.Register(GeocodeRequests)
	})
}
