// Package metrics defines the trading core's instruments on go-kit metrics,
// backed by Prometheus in production and discarded in tests.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const subsystem = "trading"

// Metrics contains the instruments shared by the trading service, the
// journal writer and the HTTP layer.
type Metrics struct {
	// AMM trades, labelled by side and outcome.
	AMMTrades metrics.Counter
	// CLOB fills, labelled by kind (transfer, mint, burn).
	Fills metrics.Counter
	// Accepted orders, labelled by intent.
	OrdersPlaced metrics.Counter
	// Rejected requests, labelled by error class.
	Rejections metrics.Counter
	// Bisection steps per AMM buy.
	SolverIterations metrics.Histogram
	// Batches waiting for the journal writer.
	JournalQueue metrics.Gauge
	// Failed journal commit attempts.
	JournalFailures metrics.Counter
	// Markets reaching a terminal status, labelled by status.
	MarketsSettled metrics.Counter
}

// PrometheusMetrics registers the instruments with the default Prometheus
// registry. Call it once per process.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		AMMTrades: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "amm_trades_total",
			Help:      "AMM trades executed.",
		}, []string{"side", "outcome"}),
		Fills: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fills_total",
			Help:      "Order book fills by settlement kind.",
		}, []string{"kind"}),
		OrdersPlaced: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_placed_total",
			Help:      "Limit orders accepted.",
		}, []string{"intent"}),
		Rejections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejections_total",
			Help:      "Trading requests rejected, by error class.",
		}, []string{"reason"}),
		SolverIterations: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solver_iterations",
			Help:      "Bisection iterations needed to price an AMM buy.",
			Buckets:   stdprometheus.LinearBuckets(10, 10, 10),
		}, []string{}),
		JournalQueue: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "queue_length",
			Help:      "Committed batches not yet persisted.",
		}, []string{}),
		JournalFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "failures_total",
			Help:      "Failed attempts to persist a batch.",
		}, []string{}),
		MarketsSettled: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "markets_settled_total",
			Help:      "Markets resolved or cancelled.",
		}, []string{"status"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		AMMTrades:        discard.NewCounter(),
		Fills:            discard.NewCounter(),
		OrdersPlaced:     discard.NewCounter(),
		Rejections:       discard.NewCounter(),
		SolverIterations: discard.NewHistogram(),
		JournalQueue:     discard.NewGauge(),
		JournalFailures:  discard.NewCounter(),
		MarketsSettled:   discard.NewCounter(),
	}
}
