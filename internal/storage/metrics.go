package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики снапшотов ============

// SnapshotWrites - записи снапшотов по биржам и исходам
var SnapshotWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbsim",
		Subsystem: "storage",
		Name:      "snapshot_writes_total",
		Help:      "Total number of snapshot writes",
	},
	[]string{"venue", "result"}, // result: ok, error
)

// SnapshotWriteLatency - длительность записи снапшота
var SnapshotWriteLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "arbsim",
		Subsystem: "storage",
		Name:      "snapshot_write_latency_ms",
		Help:      "Snapshot write duration in milliseconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50},
	},
)
