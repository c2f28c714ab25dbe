package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentTransitionsTotal,
		escrowReleasedCents,
		platformFeeCents,
		payoutsTotal,
	)
}

var (
	// Escrow payment status changes that actually applied.
	// status: pending|held_in_escrow|released|refunded|failed
	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_payment_transitions_total",
			Help: "Escrow payments moved into a status, by status and source (api|webhook|sweeper).",
		},
		[]string{"status", "source"},
	)

	escrowReleasedCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_released_cents_total",
			Help: "Minor units transferred to freelancers, by currency.",
		},
		[]string{"currency"},
	)

	platformFeeCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_platform_fee_cents_total",
			Help: "Minor units retained as platform fee, by currency.",
		},
		[]string{"currency"},
	)

	payoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Freelancer payout requests by result.",
		},
		[]string{"result"},
	)
)

func IncPaymentTransition(status, source string) {
	paymentTransitionsTotal.WithLabelValues(norm(status), norm(source)).Inc()
}

func AddRelease(currency string, netCents, feeCents int64) {
	escrowReleasedCents.WithLabelValues(norm(currency)).Add(float64(netCents))
	platformFeeCents.WithLabelValues(norm(currency)).Add(float64(feeCents))
}

func IncPayout(result string) {
	payoutsTotal.WithLabelValues(norm(result)).Inc()
}
