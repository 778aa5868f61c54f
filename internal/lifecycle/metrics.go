package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	promotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ramad",
			Subsystem: "lifecycle",
			Name:      "promotions_total",
			Help:      "Promotion attempts by outcome",
		},
		[]string{"outcome"},
	)

	queuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ramad",
			Subsystem: "lifecycle",
			Name:      "queued_requests_total",
			Help:      "Requests parked while no slot was active",
		},
	)

	queueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ramad",
			Subsystem: "lifecycle",
			Name:      "queue_wait_seconds",
			Help:      "Time requests spent parked before release",
			Buckets:   prometheus.DefBuckets,
		},
	)

	forwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ramad",
			Subsystem: "router",
			Name:      "forwards_total",
			Help:      "Requests forwarded to workers by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(promotionsTotal, queuedTotal, queueWaitSeconds, forwardsTotal)
}
