package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	journaled *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking journaled ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			journaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchebook",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of journaled ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.journaled)
	})
	return eventRegistry
}

// RecordJournaled increments the journal counter for the supplied event type.
func (m *eventMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.journaled.WithLabelValues(normalized).Inc()
}
