package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		dbPoolConns,
		dbTxTotal,
		cacheRequestsTotal,
	)
}

var (
	// state: total|idle|acquired|max
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_db_pool_conns",
			Help: "Ledger store connection pool, by connection state.",
		},
		[]string{"state"},
	)

	// result: commit|rollback|error
	dbTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_db_transactions_total",
			Help: "Ledger store transactions by outcome.",
		},
		[]string{"result"},
	)

	// result: hit|miss|bypass|error
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Read-through cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)
)

func SetDBPoolStats(total, idle, acquired, max int32) {
	dbPoolConns.WithLabelValues("total").Set(float64(total))
	dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(max))
}

func IncDBTx(result string) {
	dbTxTotal.WithLabelValues(norm(result)).Inc()
}

func IncCacheRequest(cache, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cache), norm(result)).Inc()
}
