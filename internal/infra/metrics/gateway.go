package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(gatewayCallDuration) }

var gatewayCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Payment gateway API latency by operation and result (ok|error).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"gateway", "op", "result"},
)

// ObserveGatewayCall records one gateway round trip started at start.
func ObserveGatewayCall(gateway, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayCallDuration.WithLabelValues(norm(gateway), op, result).Observe(time.Since(start).Seconds())
}
