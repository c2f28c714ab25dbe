package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(subscriptionEventsTotal) }

// event: checkout_created|activated|renewed|cancel_requested|cancelled
var subscriptionEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_events_total",
		Help: "Recurring billing lifecycle events by event and tier.",
	},
	[]string{"event", "tier"},
)

func IncSubscriptionEvent(event, tier string) {
	subscriptionEventsTotal.WithLabelValues(norm(event), norm(tier)).Inc()
}
