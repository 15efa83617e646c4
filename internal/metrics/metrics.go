// Package metrics exposes decision-loop counters and gauges for the ops
// HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the core's prometheus collectors on a dedicated
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	SignalsEvaluated *prometheus.CounterVec
	Approvals        prometheus.Counter
	Rejections       *prometheus.CounterVec
	BreakerOpens     prometheus.Counter
	OpenRiskPct      prometheus.Gauge
	OpenPositions    prometheus.Gauge
	BreakerState     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SignalsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "signals_evaluated_total",
			Help:      "Candidate signals pushed through the quality scorer.",
		}, []string{"strategy"}),
		Approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "approvals_total",
			Help:      "Risk decisions that approved an entry.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "rejections_total",
			Help:      "Risk decisions that rejected a signal, by reason code.",
		}, []string{"reason"}),
		BreakerOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "circuit_breaker_opens_total",
			Help:      "Circuit breaker open transitions.",
		}),
		OpenRiskPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "open_risk_pct",
			Help:      "Total open risk as percent of equity.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "open_positions",
			Help:      "Number of open positions.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open.",
		}),
	}
	m.Registry.MustRegister(
		m.SignalsEvaluated, m.Approvals, m.Rejections,
		m.BreakerOpens, m.OpenRiskPct, m.OpenPositions, m.BreakerState,
	)
	return m
}
