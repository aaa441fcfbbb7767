// Package metrics exposes Prometheus counters for the billing processor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics captures billing run health signals.
type BillingMetrics struct {
	runs           prometheus.Counter
	runDuration    prometheus.Histogram
	cycleOutcomes  *prometheus.CounterVec
	invoicesTotal  prometheus.Counter
	overdueMarked  prometheus.Counter
	emailsEnqueued prometheus.Counter
}

func New(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &BillingMetrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "runs_total",
			Help:      "Number of billing runs started.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a billing run.",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "cycle_outcomes_total",
			Help:      "Per-subscription outcomes of billing runs.",
		}, []string{"outcome"}),
		invoicesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "invoices_generated_total",
			Help:      "Invoices generated by the processor.",
		}),
		overdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "invoices_marked_overdue_total",
			Help:      "Invoices flipped to OVERDUE by the sweep.",
		}),
		emailsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renova",
			Subsystem: "billing",
			Name:      "receipt_emails_enqueued_total",
			Help:      "Invoice emails handed to the notifier.",
		}),
	}

	reg.MustRegister(
		m.runs,
		m.runDuration,
		m.cycleOutcomes,
		m.invoicesTotal,
		m.overdueMarked,
		m.emailsEnqueued,
	)
	return m
}

func (m *BillingMetrics) RunStarted() {
	m.runs.Inc()
}

func (m *BillingMetrics) RunFinished(seconds float64) {
	m.runDuration.Observe(seconds)
}

func (m *BillingMetrics) CycleOutcome(outcome string) {
	m.cycleOutcomes.WithLabelValues(outcome).Inc()
}

func (m *BillingMetrics) InvoiceGenerated() {
	m.invoicesTotal.Inc()
}

func (m *BillingMetrics) MarkedOverdue(count int64) {
	if count > 0 {
		m.overdueMarked.Add(float64(count))
	}
}

func (m *BillingMetrics) EmailEnqueued() {
	m.emailsEnqueued.Inc()
}
