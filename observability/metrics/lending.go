package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operationsSubmitted *prometheus.CounterVec
	operationsVoided    *prometheus.CounterVec
	loansTaken          prometheus.Counter
	loansRevoked        prometheus.Counter
	previews            *prometheus.CounterVec
	advanceLatency      prometheus.Histogram
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised metrics registry for the sub-loan
// ledger.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operationsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_submitted_total",
				Help: "Count of submitted ledger operations by kind and outcome status.",
			}, []string{"kind", "status"}),
			operationsVoided: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_voided_total",
				Help: "Count of voided ledger operations by terminal status.",
			}, []string{"status"}),
			loansTaken: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_loans_taken_total",
				Help: "Count of successfully disbursed loan batches.",
			}),
			loansRevoked: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_loans_revoked_total",
				Help: "Count of revoked loan batches.",
			}),
			previews: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_previews_total",
				Help: "Count of served preview projections by scope.",
			}, []string{"scope"}),
			advanceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "lending_advance_duration_seconds",
				Help:    "Latency of sub-loan advancement calls.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operationsSubmitted,
			lendingRegistry.operationsVoided,
			lendingRegistry.loansTaken,
			lendingRegistry.loansRevoked,
			lendingRegistry.previews,
			lendingRegistry.advanceLatency,
		)
	})
	return lendingRegistry
}

// RecordOperationSubmitted counts one submitted operation.
func (m *LendingMetrics) RecordOperationSubmitted(kind, status string) {
	if m == nil {
		return
	}
	m.operationsSubmitted.WithLabelValues(kind, status).Inc()
}

// RecordOperationVoided counts one voided operation.
func (m *LendingMetrics) RecordOperationVoided(status string) {
	if m == nil {
		return
	}
	m.operationsVoided.WithLabelValues(status).Inc()
}

// RecordLoanTaken counts one disbursed loan batch.
func (m *LendingMetrics) RecordLoanTaken() {
	if m == nil {
		return
	}
	m.loansTaken.Inc()
}

// RecordLoanRevoked counts one revoked loan batch.
func (m *LendingMetrics) RecordLoanRevoked() {
	if m == nil {
		return
	}
	m.loansRevoked.Inc()
}

// RecordPreview counts one served preview projection.
func (m *LendingMetrics) RecordPreview(scope string) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(scope).Inc()
}

// ObserveAdvance records the latency of one advancement call.
func (m *LendingMetrics) ObserveAdvance(seconds float64) {
	if m == nil {
		return
	}
	m.advanceLatency.Observe(seconds)
}
