package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "rides_created_total", Help: "Total number of rides published"})
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "ride_transitions_total", Help: "Committed ride status changes"},
		[]string{"to"},
	)
	ParticipationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "participation_transitions_total", Help: "Committed participation status changes"},
		[]string{"to"},
	)
	LifecycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "lifecycle_failures_total", Help: "Rejected operations by error kind"},
		[]string{"kind"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "events_published_total", Help: "Lifecycle events handed to sinks"},
		[]string{"sink", "result"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "ws_sessions", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
