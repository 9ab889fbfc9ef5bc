package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "requests_submitted_total", Help: "Booking requests submitted"})
	RequestsAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "requests_accepted_total", Help: "Booking requests accepted by drivers"})
	RequestsReleased   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "requests_released_total", Help: "Accepted requests cancelled or rejected, freeing seats"})
	WaitlistPromotions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "waitlist_promotions_total", Help: "Seat-available notifications sent to waitlisted passengers"})
	CommitConflicts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "commit_conflicts_total", Help: "Optimistic-concurrency conflicts retried"})
	RidesStarted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "rides_started_total", Help: "Rides transitioned to in_progress"})
	RidesCompleted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "rides_completed_total", Help: "Rides transitioned to completed"})
	RidesCancelled     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "rides_cancelled_total", Help: "Rides cancelled by drivers"})
	Regenerations      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_booking", Name: "regenerations_total", Help: "Recurring rides regenerated after completion"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_booking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_booking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
