package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics содержит метрики складского журнала и движка сверки.
// Все методы безопасны для nil-получателя.
type ReconciliationMetrics struct {
	ledgerAdjustments *prometheus.CounterVec
	ledgerConflicts   prometheus.Counter

	reconciliations        *prometheus.CounterVec
	reconciliationDuration *prometheus.HistogramVec
	partialReconciliations *prometheus.CounterVec

	publishFailures *prometheus.CounterVec
	timelineEvents  prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReconciliationMetrics создаёт метрики в глобальном реестре Prometheus.
func NewReconciliationMetrics() *ReconciliationMetrics {
	return NewReconciliationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconciliationMetricsWithRegisterer позволяет передать собственный реестр (тесты).
func NewReconciliationMetricsWithRegisterer(registerer prometheus.Registerer) *ReconciliationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconciliationMetrics{
		ledgerAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_ledger_adjustments_total",
			Help: "Total number of stock adjustments written by the ledger",
		}, []string{"result"}),
		ledgerConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_ledger_conflicts_total",
			Help: "Total number of optimistic write conflicts observed by the ledger",
		}),
		reconciliations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_reconciliations_total",
			Help: "Total number of reconciliation runs by cause and result",
		}, []string{"cause", "result"}),
		reconciliationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation runs in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"cause"}),
		partialReconciliations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_partial_reconciliations_total",
			Help: "Order writes committed without completed stock reconciliation or notification",
		}, []string{"stage"}),
		publishFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_publish_failures_total",
			Help: "Total number of events that could not be enqueued for publishing",
		}, []string{"topic"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_reconciliations_in_flight",
			Help: "Number of reconciliation runs currently executing",
		}),
	}
}

// RecordLedgerAdjustment фиксирует запись остатка; clamped — сработало ограничение снизу нулём.
func (m *ReconciliationMetrics) RecordLedgerAdjustment(clamped bool) {
	if m == nil {
		return
	}
	result := "applied"
	if clamped {
		result = "clamped"
	}
	m.ledgerAdjustments.WithLabelValues(result).Inc()
}

// RecordLedgerConflict увеличивает счётчик проигранных CAS-записей.
func (m *ReconciliationMetrics) RecordLedgerConflict() {
	if m == nil {
		return
	}
	m.ledgerConflicts.Inc()
}

// ReconciliationStarted увеличивает gauge активных сверок.
func (m *ReconciliationMetrics) ReconciliationStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordReconciliation фиксирует завершение сверки.
func (m *ReconciliationMetrics) RecordReconciliation(cause, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.reconciliations.WithLabelValues(cause, result).Inc()
	m.reconciliationDuration.WithLabelValues(cause).Observe(duration.Seconds())
}

// RecordPartialReconciliation фиксирует расхождение, требующее ручной сверки.
func (m *ReconciliationMetrics) RecordPartialReconciliation(stage string) {
	if m == nil {
		return
	}
	m.partialReconciliations.WithLabelValues(stage).Inc()
}

// RecordPublishFailure увеличивает счётчик неудачных постановок события в очередь.
func (m *ReconciliationMetrics) RecordPublishFailure(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReconciliationMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}
