package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimDuration tracks the latency of claim requests
	ClaimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fomo_claim_duration_seconds",
			Help: "Duration of claim requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"status"}, // success or the rejection reason
	)

	// ReservationsTotal counts allocator outcomes
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fomo_reservations_total",
			Help: "Reservation attempts by result",
		},
		[]string{"result"},
	)

	// VerificationsTotal counts verification link outcomes
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fomo_verifications_total",
			Help: "Verification confirmations by result",
		},
		[]string{"result"},
	)

	// ReleasedClaimsTotal counts reservations returned to the pool by the sweep
	ReleasedClaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fomo_released_claims_total",
			Help: "Expired reservations released back to their campaign",
		},
	)

	// CodeCollisionsTotal counts generated codes that were already issued
	CodeCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fomo_code_collisions_total",
			Help: "Generated issued codes skipped because they already existed",
		},
	)

	// IssuerRequestsTotal counts coupon issuer calls
	IssuerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fomo_issuer_requests_total",
			Help: "Coupon issuer calls by result",
		},
		[]string{"result"},
	)

	// NotificationsTotal counts notifier calls
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fomo_notifications_total",
			Help: "Notifications sent by kind and result",
		},
		[]string{"kind", "result"},
	)

	// HTTPRequestsTotal counts HTTP requests by route
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight is the number of requests being served
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)
)

// RecordClaimDuration records the duration of a claim request
func RecordClaimDuration(status string, duration float64) {
	ClaimDuration.WithLabelValues(status).Observe(duration)
}

// RecordReservation counts one allocator outcome
func RecordReservation(result string) {
	ReservationsTotal.WithLabelValues(result).Inc()
}

// RecordVerification counts one confirmation outcome
func RecordVerification(result string) {
	VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordReleased counts claims released by a sweep
func RecordReleased(n int) {
	ReleasedClaimsTotal.Add(float64(n))
}

// RecordCodeCollision counts one skipped issued code
func RecordCodeCollision() {
	CodeCollisionsTotal.Inc()
}

// RecordIssuer counts one issuer call
func RecordIssuer(result string) {
	IssuerRequestsTotal.WithLabelValues(result).Inc()
}

// RecordNotification counts one notifier call
func RecordNotification(kind, result string) {
	NotificationsTotal.WithLabelValues(kind, result).Inc()
}
