package metrics

import "github.com/prometheus/client_golang/prometheus"

// Результаты обработки события проекцией.
const (
	ProjectionApplied   = "applied"
	ProjectionDuplicate = "duplicate"
	ProjectionInvalid   = "invalid"
)

// ProjectionMetrics — метрики обработчика уведомлений.
type ProjectionMetrics struct {
	events *prometheus.CounterVec
}

func NewProjectionMetrics() *ProjectionMetrics {
	return NewProjectionMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewProjectionMetricsWithRegisterer(registerer prometheus.Registerer) *ProjectionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &ProjectionMetrics{
		events: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_projection_events_total",
			Help: "Events handled by the notification processor by type and result",
		}, []string{"event_type", "result"}),
	}
}

// RecordEvent фиксирует обработку события.
func (m *ProjectionMetrics) RecordEvent(eventType, result string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}
