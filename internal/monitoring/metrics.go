package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"funding-arb/internal/types"
)

// ============ Cycle-level counters and gauges ============

var CandidatesFound = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "candidates_found_total",
		Help:      "Total pair candidates surfaced across all cycles",
	},
)

var IntentsGenerated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "intents_generated_total",
		Help:      "Total trade intents generated across all cycles",
	},
)

var IntentsExecuted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "intents_executed_total",
		Help:      "Total trade intents that resulted in an opened pair",
	},
)

var IntentsBlocked = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "intents_blocked_total",
		Help:      "Total trade intents denied by risk admission",
	},
	[]string{"reason"},
)

var PairsRebalanced = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "pairs_rebalanced_total",
		Help:      "Total rebalance directives executed",
	},
)

var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Wall-clock time of one orchestrator cycle",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	},
)

var CyclesSkipped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "funding_arb",
		Subsystem: "cycle",
		Name:      "skipped_total",
		Help:      "Total cycles skipped due to transient data failures",
	},
)

var CurrentRiskState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "funding_arb",
		Subsystem: "portfolio",
		Name:      "risk_state",
		Help:      "Current risk state (1=active, 0=inactive), labeled by state name",
	},
	[]string{"state"},
)

var OpenPairsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "funding_arb",
		Subsystem: "portfolio",
		Name:      "open_pairs",
		Help:      "Current number of open position pairs",
	},
)

var ZombiePairsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "funding_arb",
		Subsystem: "portfolio",
		Name:      "zombie_pairs",
		Help:      "Current number of pairs marked ZOMBIE",
	},
)

var EquityGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "funding_arb",
		Subsystem: "portfolio",
		Name:      "equity_usd",
		Help:      "Current portfolio equity in USD",
	},
)

var DrawdownGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "funding_arb",
		Subsystem: "portfolio",
		Name:      "drawdown_pct",
		Help:      "Current drawdown from peak equity",
	},
)

// RecordCycle updates every cycle-scoped metric from one CycleResult.
// Called once per pass, after step 8 (persistence) has committed.
func RecordCycle(result types.CycleResult, risk types.RiskState, openPairs, zombiePairs int, durationSeconds float64) {
	CandidatesFound.Add(float64(result.Candidates))
	IntentsGenerated.Add(float64(result.Intents))
	IntentsExecuted.Add(float64(result.Executed))
	if blocked := result.Intents - result.Executed; blocked > 0 {
		IntentsBlocked.WithLabelValues("risk_denied").Add(float64(blocked))
	}
	PairsRebalanced.Add(float64(result.Rebalanced))
	CycleDuration.Observe(durationSeconds)

	for _, state := range []types.RiskStatus{types.RiskNormal, types.RiskReduce, types.RiskHaltNew} {
		value := 0.0
		if state == result.StatusAfter {
			value = 1.0
		}
		CurrentRiskState.WithLabelValues(string(state)).Set(value)
	}

	OpenPairsGauge.Set(float64(openPairs))
	ZombiePairsGauge.Set(float64(zombiePairs))
	EquityGauge.Set(risk.Equity)
	DrawdownGauge.Set(risk.DrawdownPct)
}

// RecordCycleSkipped increments the skip counter for a CycleSkipped
// outcome (transient data failure after retries exhausted).
func RecordCycleSkipped() {
	CyclesSkipped.Inc()
}
