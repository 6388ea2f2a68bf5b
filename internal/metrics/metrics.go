// Package metrics exposes Prometheus collectors for the memory subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the subsystem's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can run uninstrumented in tests.
type Metrics struct {
	turnsAppended   prometheus.Counter
	outOfOrder      prometheus.Counter
	excisions       prometheus.Counter
	rollovers       prometheus.Counter
	rolloverRetries prometheus.Counter
	pendingBlocks   prometheus.Gauge
	sweepRuns       prometheus.Counter
	vectorRecords   prometheus.Counter
	recallRequests  prometheus.Counter
	recallDegraded  prometheus.Counter
	recallTokens    prometheus.Histogram
	tierItems       *prometheus.CounterVec
}

// New creates and registers the subsystem collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "turns_appended_total",
			Help:      "Turns accepted into working sets.",
		}),
		outOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "turns_out_of_order_total",
			Help:      "Appends rejected for non-monotonic sequence numbers.",
		}),
		excisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "excisions_total",
			Help:      "Working-set excision events (overflow or session end).",
		}),
		rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "rollovers_total",
			Help:      "Episode summaries committed.",
		}),
		rolloverRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "rollover_retries_total",
			Help:      "Episode commit attempts that needed a retry.",
		}),
		pendingBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mnemo",
			Name:      "pending_blocks",
			Help:      "Excised turn blocks held in memory awaiting commit.",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "sweep_runs_total",
			Help:      "Retention sweep executions.",
		}),
		vectorRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "vector_records_total",
			Help:      "Vector records written to the index.",
		}),
		recallRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "recall_requests_total",
			Help:      "BuildContext invocations.",
		}),
		recallDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "recall_degraded_total",
			Help:      "BuildContext invocations that skipped vector tiers.",
		}),
		recallTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Name:      "recall_context_tokens",
			Help:      "Token size of assembled contexts.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		tierItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "recall_tier_items_total",
			Help:      "Items contributed to assembled contexts, per tier.",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		m.turnsAppended, m.outOfOrder, m.excisions,
		m.rollovers, m.rolloverRetries, m.pendingBlocks,
		m.sweepRuns, m.vectorRecords,
		m.recallRequests, m.recallDegraded, m.recallTokens, m.tierItems,
	)
	return m
}

// TurnAppended counts an accepted append.
func (m *Metrics) TurnAppended() {
	if m != nil {
		m.turnsAppended.Inc()
	}
}

// OutOfOrder counts a rejected out-of-order append.
func (m *Metrics) OutOfOrder() {
	if m != nil {
		m.outOfOrder.Inc()
	}
}

// Excision counts a working-set excision event.
func (m *Metrics) Excision() {
	if m != nil {
		m.excisions.Inc()
	}
}

// Rollover counts a committed episode summary.
func (m *Metrics) Rollover() {
	if m != nil {
		m.rollovers.Inc()
	}
}

// RolloverRetry counts a commit attempt that needed a retry.
func (m *Metrics) RolloverRetry() {
	if m != nil {
		m.rolloverRetries.Inc()
	}
}

// SetPending updates the pending-blocks gauge.
func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.pendingBlocks.Set(float64(n))
	}
}

// SweepRun counts a retention sweep execution.
func (m *Metrics) SweepRun() {
	if m != nil {
		m.sweepRuns.Inc()
	}
}

// VectorRecord counts a record written to the index.
func (m *Metrics) VectorRecord() {
	if m != nil {
		m.vectorRecords.Inc()
	}
}

// RecallRequest counts a BuildContext invocation.
func (m *Metrics) RecallRequest() {
	if m != nil {
		m.recallRequests.Inc()
	}
}

// RecallDegraded counts a BuildContext that skipped vector tiers.
func (m *Metrics) RecallDegraded() {
	if m != nil {
		m.recallDegraded.Inc()
	}
}

// RecallTokens records the token size of an assembled context.
func (m *Metrics) RecallTokens(n int) {
	if m != nil {
		m.recallTokens.Observe(float64(n))
	}
}

// TierContribution adds n items to the per-tier contribution counter.
func (m *Metrics) TierContribution(tier string, n int) {
	if m != nil && n > 0 {
		m.tierItems.WithLabelValues(tier).Add(float64(n))
	}
}
