package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "bookings_created_total", Help: "Total bookings created"})
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "booking_transitions_total", Help: "Booking state transitions by outcome"},
		[]string{"transition", "outcome"},
	)
	NoDriversAvailable = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "no_drivers_available_total", Help: "Booking requests with no nearby online driver"})
	SignalFallbacks    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "signal_fallbacks_total", Help: "Fusion snapshots degraded by upstream failure"})
	RealtimeEventsSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "realtime_events_sent_total", Help: "WebSocket events delivered"})
	DriversOnline      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "drivers_online", Help: "Drivers currently online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
