package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notisync",
			Name:      "deliveries_total",
			Help:      "Settled notification deliveries by result.",
		},
		[]string{"result"},
	)

	syncRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notisync",
			Name:      "sync_requests_total",
			Help:      "Calendar sync requests by outcome source.",
		},
		[]string{"source"},
	)

	droppedSyncOps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "notisync",
			Name:      "sync_operations_dropped_total",
			Help:      "Pending mutations dropped after exhausting retries.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notisync",
			Name:      "queue_depth",
			Help:      "Notifications currently queued or processing.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(deliveries, syncRequests, droppedSyncOps, queueDepth)
	})
}

// IncDelivery increments the delivery counter for a result label
// (sent, failed, retried).
func IncDelivery(result string) {
	deliveries.WithLabelValues(result).Inc()
}

// IncSync increments the sync request counter for a source label.
func IncSync(source string) {
	syncRequests.WithLabelValues(source).Inc()
}

// IncDroppedOp counts a lost local change.
func IncDroppedOp() {
	droppedSyncOps.Inc()
}

// SetQueueDepth records the current non-terminal queue size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
