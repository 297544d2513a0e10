// Package metrics exposes the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the process's collectors. cmd/server registers them
// and serves /metrics; no package in this module updates them.
type Registry struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	TradesMatched   *prometheus.CounterVec
	MatchLatency    *prometheus.HistogramVec
	EngineQueueDepth *prometheus.GaugeVec
	BusSubscribers  *prometheus.GaugeVec
	LaggedSubscribers *prometheus.CounterVec
	LedgerConservationFailures prometheus.Counter
}

// New registers and returns a fresh set of collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "orders_placed_total",
			Help:      "Orders accepted into the book, by symbol and side.",
		}, []string{"symbol", "side"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected before entering the book, by symbol and reason.",
		}, []string{"symbol", "reason"}),
		TradesMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "trades_matched_total",
			Help:      "Trades produced by the matching engine, by symbol.",
		}, []string{"symbol"}),
		MatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clob",
			Name:      "match_latency_seconds",
			Help:      "Time spent processing a single engine task end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}, []string{"symbol", "task"}),
		EngineQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clob",
			Name:      "engine_queue_depth",
			Help:      "Pending tasks in a symbol engine's inbound channel.",
		}, []string{"symbol"}),
		BusSubscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clob",
			Name:      "bus_subscribers",
			Help:      "Active subscribers per channel.",
		}, []string{"channel"}),
		LaggedSubscribers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "bus_lagged_subscribers_total",
			Help:      "Subscribers disconnected for falling behind, by channel.",
		}, []string{"channel"}),
		LedgerConservationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clob",
			Name:      "ledger_conservation_failures_total",
			Help:      "Settlements rejected because they would have violated fund conservation.",
		}),
	}
}
