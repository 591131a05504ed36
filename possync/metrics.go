package possync

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_orders_reconciled_total",
			Help: "POS orders handled by reconciliation runs, by outcome",
		},
		[]string{"outcome"},
	)

	syncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_sync_run_duration_seconds",
			Help:    "Wall time of POS reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ordersReconciled, syncRunDuration)
}
