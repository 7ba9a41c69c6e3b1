// Package metrics exposes Prometheus collectors for strategy executions,
// keeper ticks, shield rejections and adapter latency. Counter and
// histogram naming follows the shape of the teacher's hand-rolled
// SystemMetrics (orders processed, ticks processed, errors, latency
// percentiles), translated into Prometheus vectors labeled by strategy
// family instead of a single global counter per concern.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the dedicated registry for this process; kept separate from
// the default global registry so /metrics exposes exactly this set plus
// the standard Go/process collectors registered in Init.
var Registry = prometheus.NewRegistry()

var (
	// StrategyExecutionsTotal counts completed executions per family and
	// outcome ("ok" or "error").
	StrategyExecutionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "strategy",
			Name:      "executions_total",
			Help:      "Total strategy executions by family and outcome",
		},
		[]string{"family", "outcome"},
	)

	// StrategyExecutionDuration tracks execution latency per family.
	StrategyExecutionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trading_core",
			Subsystem: "strategy",
			Name:      "execution_duration_seconds",
			Help:      "Strategy execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// StrategiesActive reports the current count of active strategies per
	// family as a gauge to be Set, not incremented inline, since
	// create/cancel happen in several places per family. Nothing in this
	// repository sets it, so no series is reported.
	StrategiesActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trading_core",
			Subsystem: "strategy",
			Name:      "active_count",
			Help:      "Number of active strategies by family",
		},
		[]string{"family"},
	)

	// KeeperTickDuration tracks the wall-clock duration of a full
	// Scheduler.Tick call.
	KeeperTickDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trading_core",
			Subsystem: "keeper",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full keeper tick in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// KeeperTickItemsTotal counts per-tick items by family and result
	// ("executed", "skipped", "error").
	KeeperTickItemsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "keeper",
			Name:      "tick_items_total",
			Help:      "Total items seen during keeper ticks by family and result",
		},
		[]string{"family", "result"},
	)

	// KeeperTicksCancelledTotal counts ticks that ended early because
	// their context was cancelled mid-scan.
	KeeperTicksCancelledTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "keeper",
			Name:      "ticks_cancelled_total",
			Help:      "Total keeper ticks that ended due to context cancellation",
		},
	)

	// ShieldRejectionsTotal counts spend attempts rejected by the shield
	// guardrail, labeled by reason (paused, inactive, emergency,
	// single_tx_limit, daily_limit, token_daily_limit).
	ShieldRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "shield",
			Name:      "rejections_total",
			Help:      "Total spend attempts rejected by the shield guardrail, by reason",
		},
		[]string{"reason"},
	)

	// ProtocolPaused reports the current kill-switch state as 0/1.
	ProtocolPaused = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trading_core",
			Subsystem: "shield",
			Name:      "protocol_paused",
			Help:      "Whether the protocol kill switch is engaged (1) or not (0)",
		},
	)

	// AdapterCallDuration tracks exchange/oracle adapter call latency by
	// adapter name and method.
	AdapterCallDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trading_core",
			Subsystem: "adapter",
			Name:      "call_duration_seconds",
			Help:      "Adapter call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"adapter", "method"},
	)

	// AdapterErrorsTotal counts adapter call failures by adapter name and
	// method.
	AdapterErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "adapter",
			Name:      "errors_total",
			Help:      "Total adapter call errors by adapter and method",
		},
		[]string{"adapter", "method"},
	)

	// EmergencyWithdrawalsTotal counts emergency withdrawal lifecycle
	// transitions by stage (proposed, executed, cancelled).
	EmergencyWithdrawalsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_core",
			Subsystem: "emergency",
			Name:      "withdrawals_total",
			Help:      "Total emergency withdrawal lifecycle transitions by stage",
		},
		[]string{"stage"},
	)
)

// Init registers the standard Go runtime and process collectors alongside
// the domain collectors above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// RecordExecution records the outcome and duration of a single strategy
// execution.
func RecordExecution(family string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StrategyExecutionsTotal.WithLabelValues(family, outcome).Inc()
	StrategyExecutionDuration.WithLabelValues(family).Observe(d.Seconds())
}

// RecordTick records the duration of a keeper tick and whether it was
// cancelled.
func RecordTick(d time.Duration, cancelled bool) {
	KeeperTickDuration.Observe(d.Seconds())
	if cancelled {
		KeeperTicksCancelledTotal.Inc()
	}
}

// RecordTickItem records the outcome of a single item seen during a
// keeper tick.
func RecordTickItem(family, result string) {
	KeeperTickItemsTotal.WithLabelValues(family, result).Inc()
}

// RecordShieldRejection records a spend rejected by the shield guardrail.
func RecordShieldRejection(reason string) {
	ShieldRejectionsTotal.WithLabelValues(reason).Inc()
}

// SetProtocolPaused sets the kill-switch gauge.
func SetProtocolPaused(paused bool) {
	v := 0.0
	if paused {
		v = 1.0
	}
	ProtocolPaused.Set(v)
}

// RecordAdapterCall records the duration and error state of an adapter
// call.
func RecordAdapterCall(adapterName, method string, err error, d time.Duration) {
	AdapterCallDuration.WithLabelValues(adapterName, method).Observe(d.Seconds())
	if err != nil {
		AdapterErrorsTotal.WithLabelValues(adapterName, method).Inc()
	}
}

// RecordEmergencyStage records an emergency withdrawal lifecycle
// transition.
func RecordEmergencyStage(stage string) {
	EmergencyWithdrawalsTotal.WithLabelValues(stage).Inc()
}
