package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

// ============ Счётчики событий ============

// TicksProcessed - количество обработанных тиков по биржам
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "ticks_processed_total",
		Help:      "Total number of processed price ticks",
	},
	[]string{"exchange"},
)

// OpportunitiesDetected - исполненные возможности по видам
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "opportunities_total",
		Help:      "Number of arbitrage opportunities executed",
	},
	[]string{"symbol", "kind"}, // kind: open, close
)

// TradesTotal - парные сделки по исходам
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "trades_total",
		Help:      "Total number of paired trades",
	},
	[]string{"symbol", "result"}, // result: opened, closed, failed
)

// PnlTotal - суммарный реализованный PnL в котируемом активе.
// Gauge, а не Counter: PnL закрытия бывает отрицательным.
var PnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "pnl_total",
		Help:      "Total realized PnL in quote currency",
	},
)

// ============ Метрики состояния ============

// ActivePairs - текущее число живых парных сделок
var ActivePairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "active_pairs",
		Help:      "Current number of open paired positions",
	},
)

// ============ Метрики арбитража ============

// SpreadObserved - спреды исполненных открытий
var SpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "spread_observed_percent",
		Help:      "Spread values at entry in percent",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"symbol"},
)

// TickProcessingLatency - время полной обработки тика
var TickProcessingLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "arbsim",
		Subsystem: "core",
		Name:      "tick_processing_latency_ms",
		Help:      "Time to fully process a tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
	},
)
