package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_reserve_total",
			Help: "Reservation attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_provider_requests_total",
			Help: "External provider calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reservations_provider_request_seconds",
			Help:    "Duration of external provider calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicketsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_tickets_expired_total",
			Help: "Tickets cancelled by the payment-hold expiration sweep",
		},
	)

	CriticalInconsistencies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_critical_inconsistencies_total",
			Help: "Remote payment confirmations that failed after payment succeeded",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_rate_limit_exceeded_total",
			Help: "Requests rejected by the ingress rate limiter",
		},
	)
)
