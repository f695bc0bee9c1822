package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	queueRunsTotal  *prometheus.CounterVec
	entriesNotified prometheus.Counter
	entriesResolved *prometheus.CounterVec
	entriesExpired  prometheus.Counter
	eventWriteFails prometheus.Counter
}

var engineMetricsSingleton = sync.OnceValue(func() *engineMetrics {
	return &engineMetrics{
		queueRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assign",
			Name:      "queue_runs_total",
			Help:      "Total number of queue build runs by outcome.",
		}, []string{"outcome"}),
		entriesNotified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "assign",
			Name:      "entries_notified_total",
			Help:      "Total number of queue entries created in notified state.",
		}),
		entriesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assign",
			Name:      "entries_resolved_total",
			Help:      "Total number of queue entries resolved by outcome.",
		}, []string{"outcome"}),
		entriesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "assign",
			Name:      "entries_expired_total",
			Help:      "Total number of queue entries flipped to expired.",
		}),
		eventWriteFails: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "assign",
			Name:      "event_write_failures_total",
			Help:      "Total number of post-commit audit event write failures.",
		}),
	}
})

func getEngineMetrics() *engineMetrics {
	return engineMetricsSingleton()
}
