// Package observability exposes Prometheus metrics for the engine. Metrics
// register on the default registry; serve them with Handler.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantara/perpbot/internal/domain"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpbot",
		Name:      "decisions_total",
		Help:      "Decisions received from the oracle, by action.",
	}, []string{"action"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpbot",
		Name:      "rejections_total",
		Help:      "Proposals rejected before execution, by stage and reason.",
	}, []string{"stage", "reason"})

	fillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpbot",
		Name:      "execution_fills_total",
		Help:      "Order fills, by execution path.",
	}, []string{"path"})

	settledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpbot",
		Name:      "trades_settled_total",
		Help:      "Settled trades, by close reason.",
	}, []string{"reason"})

	equityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpbot",
		Name:      "equity",
		Help:      "Current portfolio equity.",
	})

	openTradesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpbot",
		Name:      "open_trades",
		Help:      "Number of open trades.",
	})

	parkedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "perpbot",
		Name:      "parked",
		Help:      "1 when new entries are suspended.",
	})

	healthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpbot",
		Name:      "health_status",
		Help:      "1 for the current health status, 0 for the others.",
	}, []string{"status"})

	drawdownGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perpbot",
		Name:      "drawdown_pct",
		Help:      "Current drawdown percentage, by horizon.",
	}, []string{"horizon"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision counts one oracle decision.
func RecordDecision(action domain.Action) {
	decisionsTotal.WithLabelValues(string(action)).Inc()
}

// RecordRejection counts one pre-execution rejection.
func RecordRejection(stage, reason string) {
	rejectionsTotal.WithLabelValues(stage, reason).Inc()
}

// RecordFill counts one order fill.
func RecordFill(path string) {
	fillsTotal.WithLabelValues(path).Inc()
}

// RecordSettled counts one settled trade.
func RecordSettled(reason domain.CloseReason) {
	settledTotal.WithLabelValues(string(reason)).Inc()
}

// UpdateFromSnapshot refreshes the state gauges.
func UpdateFromSnapshot(snap domain.StateSnapshot) {
	equityGauge.Set(snap.Equity)
	openTradesGauge.Set(float64(len(snap.OpenTrades)))
	if snap.Parked {
		parkedGauge.Set(1)
	} else {
		parkedGauge.Set(0)
	}

	for _, s := range []domain.HealthStatus{
		domain.HealthHealthy, domain.HealthDegraded, domain.HealthOutage, domain.HealthRecovering,
	} {
		v := 0.0
		if snap.Health.Status == s {
			v = 1
		}
		healthGauge.WithLabelValues(string(s)).Set(v)
	}

	drawdownGauge.WithLabelValues("daily").Set(snap.Drawdown.DailyDDPct)
	drawdownGauge.WithLabelValues("weekly").Set(snap.Drawdown.WeeklyDDPct)
	drawdownGauge.WithLabelValues("ath").Set(snap.Drawdown.ATHDDPct)
}
