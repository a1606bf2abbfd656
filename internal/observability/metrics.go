package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "location_connect", Name: "connections_active", Help: "Currently connected websocket sessions"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "location_connect", Name: "events_total", Help: "Inbound events handled, by event name"},
		[]string{"event"},
	)
	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "location_connect", Name: "event_errors_total", Help: "Inbound events that produced an error push, by code"},
		[]string{"code"},
	)

	PushesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "pushes_total", Help: "Outbound events pushed"})
	PushErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "push_errors_total", Help: "Outbound pushes that failed"})

	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "requests_created_total", Help: "Booking requests created"})
	RequestsAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "requests_accepted_total", Help: "Booking requests accepted"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "requests_cancelled_total", Help: "Booking requests cancelled"})
	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "requests_completed_total", Help: "Booking requests completed"})
	RequestsExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "location_connect", Name: "requests_expired_total", Help: "Pending booking requests cancelled by the expiry sweeper"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "location_connect", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "location_connect",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
