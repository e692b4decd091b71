package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "trips_requested_total", Help: "Total trip requests accepted"})
	TripsExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "trips_expired_total", Help: "Pending trips expired by the sweeper"})

	AcceptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "accept_attempts_total", Help: "Accept attempts by outcome"},
		[]string{"outcome"},
	)

	OffersSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_sent_total", Help: "Offers delivered to candidate drivers"})
	OffersFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_failed_total", Help: "Offer deliveries that failed"})

	LocationSamples = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "location_samples_total", Help: "Trip location samples accepted"})
	SamplesDropped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "location_samples_dropped_total", Help: "Samples dropped by slow subscribers"})
	EmergencyEvents = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "emergency_events_total", Help: "Emergency escalations recorded"})
	PresenceUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "presence_updates_total", Help: "Idle driver presence updates"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
